package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/net/idna"
)

//go:embed version.txt
var embeddedVersion string

type RsaKeyPair struct {
	Private string
	Public  string
}

func PublicKeyToString(s ssh.PublicKey) string {
	return strings.TrimSpace(string(gossh.MarshalAuthorizedKey(s)))
}

func PkToHash(pk string) string {
	h := sha256.New()
	h.Write([]byte(pk))
	return hex.EncodeToString(h.Sum(nil))
}

// IsAdminKey reports whether key matches one of the authorized_keys lines.
// Unparseable lines are skipped.
func IsAdminKey(key ssh.PublicKey, adminKeys []string) bool {
	for _, line := range adminKeys {
		allowed, _, _, _, err := gossh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			log.Warn("Skipping malformed admin key", "err", err)
			continue
		}
		if ssh.KeysEqual(key, allowed) {
			return true
		}
	}
	return false
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

// UserAgent is sent with every outgoing federation request.
func UserAgent(domain string) string {
	return fmt.Sprintf("%s/%s (+https://%s/)", Name, GetVersion(), domain)
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

// ToPuny converts a (possibly internationalized) host to its lowercase
// punycode form. Hosts that fail IDNA conversion are only lowercased.
func ToPuny(host string) string {
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(ascii)
}

// SetupLogging configures the default charm logger.
func SetupLogging(level string) {
	log.SetDefault(log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          Name,
	}))
	if lvl, err := log.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
}

func GeneratePemKeypair() *RsaKeyPair {
	bitSize := 4096

	key, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		panic(err)
	}

	keyPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		},
	)

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		panic(err)
	}

	pubPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pubBytes,
		},
	)

	return &RsaKeyPair{Private: string(keyPEM), Public: string(pubPEM)}
}
