package backend

import "fmt"

// option is one entry of a select menu.
type option struct {
	Value string
	Label string
}

// menus are the three select menus of the page.
type menus struct {
	TokenProject []option
	Portal       []option
	Project      []option
}

func buildMenus(c *Config) menus {
	m := menus{
		TokenProject: []option{withAccess(c.ProjectID)},
		Portal:       []option{withAccess(c.PortalID)},
		Project:      []option{withAccess(c.ProjectID)},
	}

	if c.NoAccessProjectID != "" {
		m.TokenProject = append(m.TokenProject, noAccess(c.NoAccessProjectID, ""))
		m.Project = append(m.Project, noAccess(c.NoAccessProjectID, tagHint("swp", c.ProjectID)))
	}
	if c.NoAccessPortalID != "" {
		m.Portal = append(m.Portal, noAccess(c.NoAccessPortalID, tagHint("swm", c.PortalID)))
	}

	m.TokenProject = append(m.TokenProject, noAccess(badProjectID, ""))
	m.Portal = append(m.Portal, noAccess(badPortalID, ""))
	m.Project = append(m.Project, noAccess(badProjectID, ""))

	return m
}

func withAccess(id string) option {
	return option{Value: id, Label: id + " (with access)"}
}

func noAccess(id, hint string) option {
	if hint != "" {
		return option{Value: id, Label: fmt.Sprintf("%s (no access unless tagged %s)", id, hint)}
	}
	return option{Value: id, Label: id + " (no access)"}
}

// tagHint is the resource tag that grants a scoped token access to another resource.
func tagHint(prefix, id string) string {
	return fmt.Sprintf(`{ "%s-%s": "ALLOW" }`, prefix, id)
}

// selectionOr returns value unless it is empty.
func selectionOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
