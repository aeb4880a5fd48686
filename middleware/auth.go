package middleware

import (
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/deemkeen/mammut/util"
)

// AdminOnly closes sessions whose key is not one of adminKeys.
func AdminOnly(adminKeys []string) wish.Middleware {
	return func(h ssh.Handler) ssh.Handler {
		return func(s ssh.Session) {
			key := s.PublicKey()
			if key == nil || !util.IsAdminKey(key, adminKeys) {
				log.Warn("Rejected console session", "user", s.User(), "remote", s.RemoteAddr())
				wish.Fatalln(s, "not an admin key")
				return
			}
			log.Info("Console session", "user", s.User(), "key", util.PkToHash(util.PublicKeyToString(key)))
			h(s)
		}
	}
}
