package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to Error values so that reporting one never needs the Go
// allocator; errors.New and fmt.Errorf are off limits inside the kernel.
type Error struct {
	// The module (e.g. "pmm", "vmm") that raised the error.
	Module string

	// The error message.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
