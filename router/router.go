// Package router builds the path/method index used by marble listeners and
// resolves incoming requests against it.
package router

import (
	"fmt"
	"strings"

	"github.com/alexanderbartels/marble/effect"
	"github.com/alexanderbartels/marble/errors"
)

// validMethods lists the HTTP methods accepted in route declarations.
var validMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"DELETE":  true,
	"PATCH":   true,
	"HEAD":    true,
	"OPTIONS": true,
}

// Route binds one method and path to an effect. Path parameters use colon
// notation (e.g. "/users/:id/posts/:postId"). Declarations are immutable
// once registered.
type Route struct {
	Method string
	Path   string
	Effect effect.Effect
}

// Group nests route declarations under a shared path prefix. Groups may
// nest arbitrarily; Build flattens them.
type Group struct {
	// Name identifies the group in build-time error messages.
	Name   string
	Prefix string
	Routes []Route
	Groups []Group
}

// Param is one extracted path parameter binding. Resolve returns params as
// an ordered list matching declaration order.
type Param struct {
	Name  string
	Value string
}

// Match is a successful resolution: the registered effect plus the extracted
// parameter bindings.
type Match struct {
	Effect effect.Effect
	Params []Param
}

// node is one segment of the path tree. Literal children are exact-match;
// at most one parameter-capturing child exists per node.
type node struct {
	children  map[string]*node
	param     *node
	paramName string
	effects   map[string]effect.Effect
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Tree is the routing index. It is built once and thereafter read-only;
// concurrent Resolve calls require no locking.
type Tree struct {
	root *node
}

// Build flattens the given declarations into a routing tree. Configuration
// errors (invalid method, missing effect, duplicate registration,
// conflicting parameter names at the same depth) are reported here, at
// build time, never at request time.
func Build(routes []Route, groups ...Group) (*Tree, error) {
	tree := &Tree{root: newNode()}

	for _, route := range routes {
		if err := tree.insert(route); err != nil {
			return nil, err
		}
	}
	for _, group := range groups {
		if err := tree.insertGroup("", group); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// insertGroup flattens one group, prepending accumulated prefixes.
func (t *Tree) insertGroup(prefix string, group Group) error {
	full := joinPaths(prefix, group.Prefix)

	for _, route := range group.Routes {
		route.Path = joinPaths(full, route.Path)
		if err := t.insert(route); err != nil {
			return errors.WrapInvalid(err, "Tree", "Build",
				fmt.Sprintf("group %q", group.Name))
		}
	}
	for _, child := range group.Groups {
		if err := t.insertGroup(full, child); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) insert(route Route) error {
	if !validMethods[route.Method] {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Tree", "Build",
			fmt.Sprintf("invalid HTTP method %q for path %q", route.Method, route.Path))
	}
	if route.Effect == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Tree", "Build",
			fmt.Sprintf("nil effect for %s %s", route.Method, route.Path))
	}

	current := t.root
	for _, segment := range splitPath(route.Path) {
		if name, ok := paramName(segment); ok {
			if current.param == nil {
				current.param = newNode()
				current.paramName = name
			} else if current.paramName != name {
				return errors.WrapInvalid(errors.ErrParamConflict, "Tree", "Build",
					fmt.Sprintf("parameter %q conflicts with %q in path %q",
						name, current.paramName, route.Path))
			}
			current = current.param
			continue
		}

		child, ok := current.children[segment]
		if !ok {
			child = newNode()
			current.children[segment] = child
		}
		current = child
	}

	if current.effects == nil {
		current.effects = make(map[string]effect.Effect)
	}
	if _, exists := current.effects[route.Method]; exists {
		return errors.WrapInvalid(errors.ErrDuplicateRoute, "Tree", "Build",
			fmt.Sprintf("%s %s registered twice", route.Method, route.Path))
	}
	current.effects[route.Method] = route.Effect
	return nil
}

// Resolve walks the tree for the given method and concrete path. At each
// level a literal match is preferred over the parameter match; the walk is
// greedy and never backtracks, so a literal branch that dead-ends does not
// retry via a parameter sibling at an ancestor level. Absence of a path
// match and absence of a method match are both reported as no match.
func (t *Tree) Resolve(method, path string) (Match, bool) {
	current := t.root
	var params []Param

	for _, segment := range splitPath(path) {
		if child, ok := current.children[segment]; ok {
			current = child
			continue
		}
		if current.param != nil {
			params = append(params, Param{Name: current.paramName, Value: segment})
			current = current.param
			continue
		}
		return Match{}, false
	}

	eff, ok := current.effects[method]
	if !ok {
		return Match{}, false
	}
	return Match{Effect: eff, Params: params}, true
}

// paramName reports whether the segment declares a parameter capture.
func paramName(segment string) (string, bool) {
	if strings.HasPrefix(segment, ":") && len(segment) > 1 {
		return segment[1:], true
	}
	return "", false
}

// splitPath breaks a path into non-empty segments. "/" resolves at the root
// node.
func splitPath(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	segments := parts[:0]
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// joinPaths concatenates two path fragments with a single separator.
func joinPaths(prefix, path string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return prefix
	}
	return prefix + "/" + path
}
