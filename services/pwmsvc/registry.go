package pwmsvc

import (
	"fmt"
	"sort"
	"sync"

	"tinygo.org/x/drivers"

	"pwmcore-go/pwm"
	"pwmcore-go/types"
)

// I2CFactory resolves configured bus names.
type I2CFactory interface {
	ByID(id string) (drivers.I2C, bool)
}

// BuildInput is passed to a chip builder.
type BuildInput struct {
	Chip  types.ChipConfig
	I2C   I2CFactory
	Owner pwm.Owner
}

// Builder creates an unregistered chip from configuration.
type Builder interface {
	Build(in BuildInput) (*pwm.Chip, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(in BuildInput) (*pwm.Chip, error)

func (f BuilderFunc) Build(in BuildInput) (*pwm.Chip, error) { return f(in) }

var (
	mu       sync.RWMutex
	builders = map[string]Builder{}
)

func RegisterBuilder(driver string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := builders[driver]; exists {
		panic(fmt.Sprintf("chip builder already registered for driver %q", driver))
	}
	builders[driver] = b
}

func LookupBuilder(driver string) (Builder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := builders[driver]
	return b, ok
}

// Drivers lists the registered driver names.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
