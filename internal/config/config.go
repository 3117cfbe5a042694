// Package config loads the account file that tells the sync engine
// which Gmail account to connect to and how to obtain its password.
//
// The file is a small INI-like format:
//
//	[user]
//	name = alice@gmail.com
//
//	[imap]
//	host = imap.gmail.com:993
//	password_cmd = pass show gmail/alice
//
// Dotted keys (section.key) map 1:1 onto the bracketed sections; any
// key outside the known set is rejected at load time rather than
// silently ignored, so a typo in the file surfaces immediately instead
// of as a mysterious missing credential at connect time.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// UserIntentError reports a configuration file the user wrote
// incorrectly — an unknown key, a malformed line, a missing required
// value. It is distinct from a TransportError or ProtocolError: the
// fault is in what the user asked for, not in the network or the
// server.
type UserIntentError struct {
	Line int
	Msg  string
}

func (e *UserIntentError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("config: line %d: %s", e.Line, e.Msg)
	}
	return "config: " + e.Msg
}

// Account holds one loaded account configuration.
type Account struct {
	UserName    string
	IMAPHost    string
	PasswordCmd string
}

var knownKeys = map[string]bool{
	"user.name":         true,
	"imap.host":         true,
	"imap.password_cmd": true,
}

// Load reads and validates an account file from path.
func Load(path string) (*Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads an account file from r. Exported separately from Load
// so tests can feed a strings.Reader without touching the filesystem.
func Parse(r io.Reader) (*Account, error) {
	values := make(map[string]string)
	section := ""

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, &UserIntentError{Line: lineNo, Msg: "unterminated section header"}
			}
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, &UserIntentError{Line: lineNo, Msg: "expected key = value"}
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if section == "" {
			return nil, &UserIntentError{Line: lineNo, Msg: "key outside any [section]"}
		}
		full := section + "." + key
		if !knownKeys[full] {
			return nil, &UserIntentError{Line: lineNo, Msg: fmt.Sprintf("unknown key %q", full)}
		}
		values[full] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	acct := &Account{
		UserName:    values["user.name"],
		IMAPHost:    values["imap.host"],
		PasswordCmd: values["imap.password_cmd"],
	}
	if acct.UserName == "" {
		return nil, &UserIntentError{Msg: "missing required key user.name"}
	}
	if acct.IMAPHost == "" {
		return nil, &UserIntentError{Msg: "missing required key imap.host"}
	}
	if acct.PasswordCmd == "" {
		return nil, &UserIntentError{Msg: "missing required key imap.password_cmd"}
	}
	return acct, nil
}

// Password runs the account's configured password command and
// returns its output with the trailing newline trimmed. Run fresh on
// every login attempt rather than cached, so a password manager that
// rotates credentials is respected without restarting the process.
func (a *Account) Password() (string, error) {
	cmd := exec.Command("/bin/sh", "-c", a.PasswordCmd)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("config: password_cmd failed: %w", err)
	}
	return strings.TrimRight(string(out), "\r\n"), nil
}
