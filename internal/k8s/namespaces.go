package k8s

import "github.com/hjunqq/hydrosim-platform/internal/types"

// classNamespaces is the fixed bi-map from project class key to the
// namespace its student workloads live in.
var classNamespaces = map[types.ProjectClass]string{
	types.ProjectClassGD: "students-gd",
	types.ProjectClassCD: "students-cd",
}

// NamespaceForClass resolves the namespace for a project class key.
func NamespaceForClass(class types.ProjectClass) (string, bool) {
	ns, ok := classNamespaces[class]
	return ns, ok
}

// StudentNamespaces returns every namespace that may contain student
// workloads, in a stable order.
func StudentNamespaces() []string {
	return []string{
		classNamespaces[types.ProjectClassGD],
		classNamespaces[types.ProjectClassCD],
	}
}
