package errors

import (
	"fmt"
	"sync"
)

// Service codes (AA).
const (
	// ServiceCommon is for common errors shared by all components.
	ServiceCommon = 0

	// ServiceChatbase is for chatbase business errors.
	ServiceChatbase = 30
)

// Category codes (BB).
const (
	CategoryRequest  = 1  // 400
	CategoryAuthz    = 3  // 403
	CategoryResource = 4  // 404
	CategoryConflict = 5  // 409
	CategoryInternal = 7  // 500
	CategoryDatabase = 8  // 500
	CategoryCache    = 9  // 500
	CategoryNetwork  = 10 // 502/503
	CategoryTimeout  = 11 // 504
)

// MakeCode builds an AABBCCC error code.
func MakeCode(service, category, seq int) int {
	return service*100000 + category*1000 + seq
}

var (
	registry   = make(map[int]*Errno)
	registryMu sync.RWMutex
)

// Register registers an Errno and validates code uniqueness.
// Panics on duplicate codes; registration happens at init time only.
func Register(e *Errno) *Errno {
	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, ok := registry[e.Code]; ok {
		panic(fmt.Sprintf("errno code %d already registered: %s", e.Code, existing.MessageEN))
	}
	registry[e.Code] = e
	return e
}

// Lookup returns the registered Errno for the given code.
func Lookup(code int) (*Errno, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[code]
	return e, ok
}

// FromError converts any error to an Errno.
// An existing Errno is returned as-is; anything else wraps ErrInternal.
func FromError(err error) *Errno {
	if err == nil {
		return nil
	}
	var e *Errno
	if As(err, &e) {
		return e
	}
	return ErrInternal.WithCause(err)
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code int) bool {
	var e *Errno
	if As(err, &e) {
		return e.Code == code
	}
	return false
}
