package services

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// AnonymousUserID is sent as uploaded_by when no user is known.
const AnonymousUserID = "0"

// Identity resolves the acting user for new upload records.
type Identity struct {
	userID string
}

// NewIdentity prefers an explicit userID. Otherwise it reads the subject of
// the session token; the token is not verified here, the server does that.
func NewIdentity(userID, accessToken string) *Identity {
	if userID == "" && accessToken != "" {
		if id, err := UserIDFromToken(accessToken); err == nil {
			userID = id
		}
	}
	if userID == "" {
		userID = AnonymousUserID
	}
	return &Identity{userID: userID}
}

func (i *Identity) UserID() string { return i.userID }

// UserIDFromToken extracts "sub", falling back to a numeric or string
// "user_id" claim.
func UserIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}

	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	}
	return "", fmt.Errorf("%w: no user claim", common.ErrInvalidToken)
}
