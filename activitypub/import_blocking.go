package activitypub

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/domain"
)

// ImportResult counts the lines of a blocking import.
type ImportResult struct {
	Blocked int
	Skipped int
	Failed  int
}

// BlockImporter blocks every account listed in an exported block list.
type BlockImporter struct {
	users   *Users
	actions *Actions
	log     *log.Logger
}

func NewBlockImporter(users *Users, actions *Actions) *BlockImporter {
	return &BlockImporter{users: users, actions: actions, log: log.WithPrefix("import")}
}

// ImportBlocking reads one acct per line from the first CSV column. A line
// that cannot be resolved or blocked is logged and the import goes on.
func (i *BlockImporter) ImportBlocking(ctx context.Context, blocker *domain.Account, data io.Reader) (ImportResult, error) {
	var res ImportResult
	r := csv.NewReader(data)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	for line := 1; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("reading block list: %w", err)
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}
		acct := strings.TrimSpace(record[0])

		skipped, err := i.importLine(ctx, blocker, acct)
		switch {
		case err != nil:
			res.Failed++
			i.log.Warn("Cannot block", "line", line, "acct", acct, "err", err)
		case skipped:
			res.Skipped++
		default:
			res.Blocked++
		}
	}
	i.log.Info("Block list imported", "user", blocker.Username, "blocked", res.Blocked, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (i *BlockImporter) importLine(ctx context.Context, blocker *domain.Account, acct string) (bool, error) {
	target, err := i.users.ResolveAcct(ctx, acct)
	if err != nil {
		return false, err
	}
	if target.Local != nil {
		if target.Local.Id == blocker.Id {
			return true, nil
		}
		return false, i.actions.BlockLocal(ctx, blocker, target.Local)
	}
	return false, i.actions.Block(ctx, blocker, target.Remote)
}
