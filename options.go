package sros

// IdlePolicy selects what Run does when the priority scan finds no runnable
// task: spec.md treats this as "a single pluggable decision point" between
// a host-OS mode (return, triggering process exit) and a freestanding mode
// (halt the CPU pending an interrupt).
type IdlePolicy int

const (
	// IdlePolicyExit returns ErrNoRunnableTask from Run as soon as no task
	// is runnable — the host-OS mode.
	IdlePolicyExit IdlePolicy = iota
	// IdlePolicyBlock waits (respecting ctx cancellation) and rescans,
	// rather than returning — the closest Go-native analogue of halting
	// the CPU pending an interrupt.
	IdlePolicyBlock
)

type kernelConfig struct {
	logger            Logger
	defaultStackBytes uint32
	defaultHeapBytes  uint32
	defaultPriority   Priority
	brokerPriority    Priority
	idlePolicy        IdlePolicy
}

// KernelOption configures a Kernel at Boot time.
type KernelOption interface {
	applyKernel(*kernelConfig) error
}

type kernelOptionImpl struct {
	fn func(*kernelConfig) error
}

func (o kernelOptionImpl) applyKernel(c *kernelConfig) error { return o.fn(c) }

// WithLogger sets the structured logger the kernel reports dispatch, reap,
// and corruption events to. A nil logger (the default) disables logging.
func WithLogger(l Logger) KernelOption {
	return kernelOptionImpl{func(c *kernelConfig) error {
		c.logger = l
		return nil
	}}
}

// WithDefaultStackBytes overrides the default per-task stack size (the
// reference value is 3172) used by Boot for the broker and user_main tasks.
func WithDefaultStackBytes(n uint32) KernelOption {
	return kernelOptionImpl{func(c *kernelConfig) error {
		if n == 0 {
			return &RangeError{Field: "DefaultStackBytes", Value: int(n)}
		}
		c.defaultStackBytes = n
		return nil
	}}
}

// WithDefaultHeapBytes overrides the default per-task heap size (the
// reference value is 4096).
func WithDefaultHeapBytes(n uint32) KernelOption {
	return kernelOptionImpl{func(c *kernelConfig) error {
		if n < HeapMinBytes {
			return &RangeError{Field: "DefaultHeapBytes", Value: int(n), Cause: ErrHeapTooSmall}
		}
		c.defaultHeapBytes = n
		return nil
	}}
}

// WithDefaultPriority overrides the priority Boot creates the user_main
// task at (the reference value is 250).
func WithDefaultPriority(p Priority) KernelOption {
	return kernelOptionImpl{func(c *kernelConfig) error {
		if p < PriorityHighestTask {
			return &RangeError{Field: "DefaultPriority", Value: int(p)}
		}
		c.defaultPriority = p
		return nil
	}}
}

// WithBrokerPriority overrides the priority Boot creates the broker task
// at (the reference value is 0; the broker is always strictly above
// PriorityHighestTask).
func WithBrokerPriority(p Priority) KernelOption {
	return kernelOptionImpl{func(c *kernelConfig) error {
		if p >= PriorityHighestTask {
			return &RangeError{Field: "BrokerPriority", Value: int(p)}
		}
		c.brokerPriority = p
		return nil
	}}
}

// WithIdlePolicy overrides the policy Run follows when no task is runnable.
func WithIdlePolicy(p IdlePolicy) KernelOption {
	return kernelOptionImpl{func(c *kernelConfig) error {
		c.idlePolicy = p
		return nil
	}}
}

func resolveKernelOptions(opts []KernelOption) (*kernelConfig, error) {
	c := &kernelConfig{
		defaultStackBytes: 3172,
		defaultHeapBytes:  4096,
		defaultPriority:   PriorityUserMain,
		brokerPriority:    PriorityBroker,
		idlePolicy:        IdlePolicyExit,
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o.applyKernel(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}
