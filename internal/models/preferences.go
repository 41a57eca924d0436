package models

import (
	"fmt"
	"strings"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

func ParseTheme(raw string) (Theme, error) {
	switch t := Theme(strings.ToLower(strings.TrimSpace(raw))); t {
	case ThemeLight, ThemeDark:
		return t, nil
	}
	return "", fmt.Errorf("%w: theme %q", ErrInvalidPreference, raw)
}

type ViewMode string

const (
	ViewList  ViewMode = "list"
	ViewBoard ViewMode = "board"
)

// ParseViewMode accepts "grid", the name older clients stored for the board.
func ParseViewMode(raw string) (ViewMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "list":
		return ViewList, nil
	case "board", "grid":
		return ViewBoard, nil
	}
	return "", fmt.Errorf("%w: view %q", ErrInvalidPreference, raw)
}

// PreferenceSlot names one independently stored scalar.
type PreferenceSlot string

const (
	SlotTheme PreferenceSlot = "theme"
	SlotView  PreferenceSlot = "view"
)

type Preferences struct {
	Theme Theme    `json:"theme" yaml:"theme"`
	View  ViewMode `json:"view" yaml:"view"`
}

func DefaultPreferences() Preferences {
	return Preferences{Theme: ThemeLight, View: ViewList}
}
