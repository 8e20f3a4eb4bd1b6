package vibefeed

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/vibefeed/vibefeed/sys"
)

// ErrBadHandle covers every way a proposed handle can be malformed.
var ErrBadHandle = errors.New("bad handle")

// UserProfile is the identity slice of the snapshot. PostIDs holds the
// account's own posts, newest first.
type UserProfile struct {
	Address      string
	Handle       string
	IsRegistered bool
	PostIDs      []uint64
}

// ValidateHandle normalizes a proposed handle and checks it against the
// program's rules before any transaction is submitted: lowercase, 3 to 20
// characters, letters, digits and underscore only.
func ValidateHandle(handle string) (string, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))

	if len(handle) < sys.HandleMinLength {
		return "", errors.Wrapf(ErrBadHandle, "%q is shorter than %d characters", handle, sys.HandleMinLength)
	}

	if len(handle) > sys.HandleMaxLength {
		return "", errors.Wrapf(ErrBadHandle, "%q is longer than %d characters", handle, sys.HandleMaxLength)
	}

	for i := 0; i < len(handle); i++ {
		c := handle[i]

		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return "", errors.Wrapf(ErrBadHandle, "%q contains %q", handle, c)
		}
	}

	return handle, nil
}
