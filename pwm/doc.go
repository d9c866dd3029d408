// Package pwm is the lifecycle core for PWM controller chips.
//
// A Chip owns a fixed array of Channels and a driver (Ops). Chips are
// registered with AddChip and torn down with RemoveChip while other
// goroutines request, configure and release channels. Two lock tiers keep
// that safe:
//
//   - the global lock serialises the registry and channel request/release
//     bookkeeping across all chips;
//   - each chip's own lock (a spin lock for atomic chips, a mutex
//     otherwise) serialises driver calls and the operational flag.
//
// Lock order is always global before chip. RemoveChip takes the global
// lock, then flips the chip to Removed under the chip lock, which waits
// for any driver call already in flight. Every later call observes Removed
// and fails with errcode.NotOperational; the driver is never entered again
// except for the Free hook of channels that consumers did not release.
package pwm
