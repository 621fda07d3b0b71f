package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/crazyscot/disorder/internal/auth"
	"github.com/crazyscot/disorder/internal/errors"
	"github.com/crazyscot/disorder/internal/protocol"
	"github.com/crazyscot/disorder/internal/trackdb"
)

// ParsePasswd reads path, a sequence of per-user stanzas:
//
//	user alice
//	password hunter2
//	rights read,play,pause
//	user bob
//	password swordfish
//	rights read,play,admin
//
// Each line is split with internal/protocol.SplitArgs (the same
// shell-style quoting/escaping rule wire commands use, with '#' comments
// allowed), so a password containing whitespace must be quoted.
func ParsePasswd(path string) ([]*trackdb.User, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewConfigError("passwd.open", err)
	}
	defer f.Close()

	var users []*trackdb.User
	var cur *trackdb.User
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		fields, err := protocol.SplitArgs(raw, true)
		if err != nil {
			return nil, errors.NewConfigError("passwd.parse", fmt.Errorf("line %d: %w", lineNo, err))
		}
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "user":
			if len(fields) != 2 {
				return nil, errors.NewConfigError("passwd.parse", fmt.Errorf("line %d: user requires exactly one name", lineNo))
			}
			if cur != nil {
				users = append(users, cur)
			}
			cur = &trackdb.User{Username: fields[1]}
		case "password":
			if cur == nil || len(fields) != 2 {
				return nil, errors.NewConfigError("passwd.parse", fmt.Errorf("line %d: password must follow a user line", lineNo))
			}
			cur.PasswordHash = fields[1]
		case "email":
			if cur == nil || len(fields) != 2 {
				return nil, errors.NewConfigError("passwd.parse", fmt.Errorf("line %d: email must follow a user line", lineNo))
			}
			cur.Email = fields[1]
		case "rights":
			if cur == nil || len(fields) != 2 {
				return nil, errors.NewConfigError("passwd.parse", fmt.Errorf("line %d: rights must follow a user line", lineNo))
			}
			r, err := auth.ParseRights(fields[1])
			if err != nil {
				return nil, errors.NewConfigError("passwd.parse", fmt.Errorf("line %d: %w", lineNo, err))
			}
			cur.Rights = r
		default:
			return nil, errors.NewConfigError("passwd.parse", fmt.Errorf("line %d: unknown directive %q", lineNo, fields[0]))
		}
	}
	if cur != nil {
		users = append(users, cur)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewConfigError("passwd.scan", err)
	}
	return users, nil
}
