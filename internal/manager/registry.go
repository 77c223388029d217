package manager

// namespaceSeparator joins a server id and a tool name when two servers
// expose tools with the same name. Double underscore is a legal tool-name
// character sequence for every known server.
const namespaceSeparator = "__"

// Tool is one tool definition as supplied by a server. The schema is
// carried opaquely; the manager only ever inspects the name.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// resolveNamespaces flattens per-server tool lists into a unified catalog.
// A name exposed by two or more servers is a conflict: every conflicting
// tool is renamed "{server_id}__{name}". Non-conflicting tools keep their
// original name. The conflict set is computed over the full population
// before any renaming, so the result does not depend on map iteration
// order; the ordering of the returned slice is unspecified.
func resolveNamespaces(toolsByServer map[string][]Tool) []Tool {
	owners := make(map[string]int)
	total := 0
	for _, tools := range toolsByServer {
		seen := make(map[string]struct{}, len(tools))
		for _, t := range tools {
			// Duplicates within one server count once; conflicts
			// are strictly cross-server.
			if _, ok := seen[t.Name]; ok {
				continue
			}
			seen[t.Name] = struct{}{}
			owners[t.Name]++
		}
		total += len(tools)
	}

	unified := make([]Tool, 0, total)
	for serverID, tools := range toolsByServer {
		for _, t := range tools {
			if owners[t.Name] > 1 {
				t.Name = serverID + namespaceSeparator + t.Name
			}
			unified = append(unified, t)
		}
	}
	return unified
}
