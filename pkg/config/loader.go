package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrNilPointer rejects a nil destination.
	ErrNilPointer = errors.New("config: nil pointer")

	// ErrParsingConfig wraps env tag parsing failures.
	ErrParsingConfig = errors.New("config: cannot parse environment")
)

var (
	mu     sync.Mutex
	cache  = make(map[string]any)
	dotEnv sync.Once
)

// Load parses environment variables into v. The first call in the process
// also loads a .env file if present (missing files are fine). Each struct
// type is parsed once; later calls return the cached copy.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	dotEnv.Do(func() {
		_ = godotenv.Load()
	})

	key := typeName[T]()

	mu.Lock()
	defer mu.Unlock()

	if cached, ok := cache[key]; ok {
		*v = cached.(T)
		return nil
	}
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	cache[key] = *v
	return nil
}

// MustLoad is Load but panics on failure. For configuration the process
// cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

func typeName[T any]() string {
	t := reflect.TypeOf(*new(T))
	if t == nil {
		return fmt.Sprintf("%T", *new(T))
	}
	return t.String()
}
