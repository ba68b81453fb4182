package quota

import (
	"fmt"
	"strings"
)

// Unlimited is the value of a limit that does not apply. It is never a valid current value.
const Unlimited int64 = -1

type Scope int

const (
	ScopeUser Scope = iota
	ScopeDomain
	ScopeGlobal
)

func (s Scope) String() string {
	switch s {
	case ScopeDomain:
		return "domain"

	case ScopeGlobal:
		return "global"

	default:
		return "user"
	}
}

func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(s) {
	case "user":
		return ScopeUser, nil

	case "domain":
		return ScopeDomain, nil

	case "global":
		return ScopeGlobal, nil

	default:
		return 0, fmt.Errorf("unknown quota scope %q", s)
	}
}

type Type int

const (
	TypeCount Type = iota
	TypeSize
)

func (t Type) String() string {
	if t == TypeSize {
		return "size"
	}

	return "count"
}

// Root identifies a set of resources sharing the same quota.
type Root struct {
	Component  string
	Scope      Scope
	Identifier string
}

func (r Root) String() string {
	return r.Component + "/" + r.Scope.String() + "/" + r.Identifier
}

func (r Root) Key(typ Type) Key {
	return Key{Root: r, Type: typ}
}

// Key identifies one current value of a quota root.
type Key struct {
	Root

	Type Type
}

func (k Key) String() string {
	return k.Root.String() + ":" + k.Type.String()
}

// Usage is the current message count and storage size of a quota root.
type Usage struct {
	Count int64
	Size  int64
}

// RootResolver maps a user to the quota root its messages are accounted to.
type RootResolver interface {
	RootFor(user string) Root
}

type RootResolverFunc func(user string) Root

func (f RootResolverFunc) RootFor(user string) Root {
	return f(user)
}

// UserRootResolver accounts every user on its own root.
func UserRootResolver(component string) RootResolver {
	return RootResolverFunc(func(user string) Root {
		return Root{Component: component, Scope: ScopeUser, Identifier: user}
	})
}

// DomainRootResolver accounts users on the root of their domain. Users without a domain share the global root.
func DomainRootResolver(component string) RootResolver {
	return RootResolverFunc(func(user string) Root {
		if idx := strings.LastIndexByte(user, '@'); idx >= 0 {
			return Root{Component: component, Scope: ScopeDomain, Identifier: strings.ToLower(user[idx+1:])}
		}

		return Root{Component: component, Scope: ScopeGlobal}
	})
}

// GlobalRootResolver accounts every user on the single global root.
func GlobalRootResolver(component string) RootResolver {
	return RootResolverFunc(func(string) Root {
		return Root{Component: component, Scope: ScopeGlobal}
	})
}

// NewRootResolver returns the resolver accounting users on roots of the given scope.
func NewRootResolver(component string, scope Scope) RootResolver {
	switch scope {
	case ScopeDomain:
		return DomainRootResolver(component)

	case ScopeGlobal:
		return GlobalRootResolver(component)

	default:
		return UserRootResolver(component)
	}
}
