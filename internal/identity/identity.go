// Package identity describes the viewer on whose behalf the daemon acts.
package identity

import (
	"errors"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// PermApprove grants blanket authority to decide permission requests.
const PermApprove = "permissions:approve"

// Viewer is the authenticated user the feed belongs to.
// The zero value has no id and no permissions.
type Viewer struct {
	UserID int64
	perms  map[string]struct{}
}

func NewViewer(userID int64, perms []string) Viewer {
	v := Viewer{UserID: userID}
	if len(perms) > 0 {
		v.perms = make(map[string]struct{}, len(perms))
		for _, p := range perms {
			v.perms[p] = struct{}{}
		}
	}
	return v
}

// Has reports whether the viewer holds the named permission.
func (v Viewer) Has(perm string) bool {
	_, ok := v.perms[perm]
	return ok
}

// CanApprove reports blanket request-deciding authority.
func (v Viewer) CanApprove() bool { return v.Has(PermApprove) }

// IsZero reports whether the viewer is unresolved.
func (v Viewer) IsZero() bool { return v.UserID == 0 && len(v.perms) == 0 }

// UserIDFromToken extracts the subject user id from a bearer token without
// verifying the signature. The server is the authority on token validity;
// this is only a bootstrap hint for when the profile endpoint is unreachable.
func UserIDFromToken(token string) (int64, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return 0, err
	}
	if claims.Subject == "" {
		return 0, errors.New("token has no subject")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, errors.New("token subject is not a user id")
	}
	return id, nil
}
