package knowledge

import (
	"fmt"
	"net/url"
	"strings"
)

// OntologyBase is the root of the platform's predicate URI scheme.
const OntologyBase = "http://smartinsight.com/ontology"

// graphBase is the root under which per-tenant default graphs are named.
const graphBase = "http://smartinsight.com/graph/tenant/"

// DefaultGraphURI returns the default graph URI for a tenant.
func DefaultGraphURI(tenant string) string {
	return graphBase + tenant
}

// PredicateURI computes the predicate URI for a relation type. For the closed
// enumeration the mapping is the fixed table under [OntologyBase]; for
// [RelationDomainSpecific] the URI is derived from the percent-encoded
// relation name. An unknown type or an empty domain-specific name is an
// [ErrInvalidArgument].
func PredicateURI(rt RelationType, name string) (string, error) {
	if rt == RelationDomainSpecific {
		if name == "" {
			return "", fmt.Errorf("predicate uri: domain-specific relation without a name: %w", ErrInvalidArgument)
		}
		return OntologyBase + "/domain/" + url.PathEscape(name), nil
	}
	suffix, ok := predicateSuffixes[rt]
	if !ok {
		return "", fmt.Errorf("predicate uri: unknown relation type %q: %w", rt, ErrInvalidArgument)
	}
	return OntologyBase + "/" + suffix, nil
}

// NormalizeURI prepends "http://" to any term that does not already carry an
// http, https, or urn scheme. Literals must not be passed through this
// function — their lexical form is stored verbatim.
func NormalizeURI(s string) string {
	if s == "" {
		return s
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "urn:") {
		return s
	}
	return "http://" + s
}
