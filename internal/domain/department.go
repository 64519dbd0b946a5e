package domain

import "strings"

// DefaultDepartmentTag is the object tag that carries the owning department.
const DefaultDepartmentTag = "department"

// Department is the access-control label attached to every object and document.
type Department string

// NewDepartment validates a raw department claim or tag value.
func NewDepartment(raw string) (Department, error) {
	d := strings.TrimSpace(raw)
	if d == "" {
		return "", ErrMissingDepartment
	}
	return Department(d), nil
}

// DepartmentFromTags reads the department from object tags under key.
func DepartmentFromTags(tags map[string]string, key string) (Department, error) {
	if key == "" {
		key = DefaultDepartmentTag
	}
	return NewDepartment(tags[key])
}

func (d Department) String() string { return string(d) }

// IsZero reports whether no department is set.
func (d Department) IsZero() bool { return d == "" }
