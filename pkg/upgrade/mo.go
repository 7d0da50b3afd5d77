package upgrade

// mo is a managed object in the controller's JSON request format:
// {"<class>": {"attributes": {...}, "children": [...]}}.
type mo map[string]interface{}

func newMO(class string, attrs map[string]string, children ...mo) mo {
	if children == nil {
		children = []mo{}
	}
	return mo{
		class: map[string]interface{}{
			"attributes": attrs,
			"children":   children,
		},
	}
}

func moPath(dn string) string {
	return "/api/node/mo/" + dn
}
