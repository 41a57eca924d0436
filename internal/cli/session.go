package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var ErrNotLoggedIn = errors.New("not logged in (run `taskctl login` first)")

// session is what login leaves on disk for later commands.
type session struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token"`
	UID    string `yaml:"uid"`
	Email  string `yaml:"email"`
}

func readSession(path string) (session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return session{}, ErrNotLoggedIn
	}
	if err != nil {
		return session{}, fmt.Errorf("read session: %w", err)
	}

	var s session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return session{}, fmt.Errorf("parse session %s: %w", path, err)
	}
	if s.Token == "" {
		return session{}, ErrNotLoggedIn
	}
	return s, nil
}

func writeSession(path string, s session) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func removeSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
