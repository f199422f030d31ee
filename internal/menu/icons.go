package menu

import (
	"path"
	"slices"
	"strings"
)

// ToggleIcon is the status icon that opens and closes the menu.
const ToggleIcon = "menu"

// Device modes shown as system icons while active.
var modeIcons = []string{"hold", "cycle"}

// arrange builds status icons: system icons, then the configured items when
// active, then the toggle icon when shown. Duplicates are dropped.
func arrange(system, configured []string, active, button bool) []string {
	out := make([]string, 0, len(system)+len(configured)+1)
	add := func(icons []string) {
		for _, icon := range icons {
			if icon != "" && icon != ToggleIcon && !slices.Contains(out, icon) {
				out = append(out, icon)
			}
		}
	}
	add(system)
	if active {
		add(configured)
	}
	if button {
		out = append(out, ToggleIcon)
	}
	return out
}

// deriveSystemIcons returns the status icons that are not menu items, the
// toggle or a mode icon, followed by the icon for the current mode.
func deriveSystemIcons(status, items []string, mode string) []string {
	var out []string
	for _, icon := range status {
		if icon == ToggleIcon || slices.Contains(items, icon) || slices.Contains(modeIcons, icon) || slices.Contains(out, icon) {
			continue
		}
		out = append(out, icon)
	}
	if slices.Contains(modeIcons, mode) {
		out = append(out, mode)
	}
	return out
}

// effectiveItems drops the item for the view currently displayed.
func effectiveItems(items []string, view string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if matchesView(item, view) || slices.Contains(out, item) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// matchesView reports whether item names view, either as the full path or
// its last segment.
func matchesView(item, view string) bool {
	if view == "" || item == "" {
		return false
	}
	view = strings.TrimSuffix(view, "/")
	return item == view || item == path.Base(view)
}

// appendMissing returns list with the entries of add not already present.
func appendMissing(list, add []string) []string {
	out := slices.Clone(list)
	for _, a := range add {
		if a != "" && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}

// without returns list minus the entries of remove.
func without(list, remove []string) []string {
	out := make([]string, 0, len(list))
	for _, l := range list {
		if !slices.Contains(remove, l) {
			out = append(out, l)
		}
	}
	return out
}
