package snowflake

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Layout, most significant bit first: one unused sign bit, 41 bits of
// milliseconds since epoch, 10 bits of machine id, 12 bits of sequence.
// Keeping the sign bit clear lets ids round trip through signed 64-bit
// integer columns.
const (
	epoch        = 1491696000000
	serverBits   = 10
	sequenceBits = 12
	timeBits     = 41
	serverShift  = sequenceBits
	timeShift    = sequenceBits + serverBits
	serverMax    = ^(-1 << serverBits)
	sequenceMask = ^(-1 << sequenceBits)
	timeMask     = ^(-1 << timeBits)
)

// MaxMachineID is the largest machine id a generator accepts.
const MaxMachineID = serverMax

// Generator produces monotonically increasing ids tagged with a machine id.
type Generator struct {
	state   uint64
	machine uint64
}

// New returns a generator for machineID. It panics if machineID is outside
// [0, MaxMachineID].
func New(machineID int) *Generator {
	if machineID < 0 || machineID > serverMax {
		panic(fmt.Errorf("invalid machine id; must be 0 ≤ id < %d", serverMax+1))
	}
	return &Generator{
		machine: uint64(machineID) << serverShift,
	}
}

// MachineID returns the machine id embedded in every id of g.
func (g *Generator) MachineID() int {
	return int(g.machine >> serverShift)
}

// Next returns the next id.
func (g *Generator) Next() uint64 {
	// we attempt 100 times to update the millisecond part of the state
	// and increment the sequence atomically.
	for i := 0; i < 100; i++ {
		t := (now() - epoch) & timeMask
		current := atomic.LoadUint64(&g.state)
		if state := advance(current, t); atomic.CompareAndSwapUint64(&g.state, current, state) {
			return state | g.machine
		}
	}

	// high contention; stop reading the clock and advance the state alone.
	// every failed CAS means another caller got an id, so this terminates.
	for {
		current := atomic.LoadUint64(&g.state)
		if state := advance(current, 0); atomic.CompareAndSwapUint64(&g.state, current, state) {
			return state | g.machine
		}
	}
}

// advance returns the state following current at millisecond t.
func advance(current, t uint64) uint64 {
	currentTime := current >> timeShift & timeMask
	switch {
	// if our time is in the future, use that with a zero sequence number.
	case t > currentTime:
		return t << timeShift
	// at or before the current time and out of sequence numbers: borrow
	// the next millisecond.
	case current&sequenceMask == sequenceMask:
		return (currentTime + 1) << timeShift
	default:
		return current + 1
	}
}

// MachineIDOf extracts the machine id from an id produced by any Generator.
func MachineIDOf(id uint64) int {
	return int((id >> serverShift) & serverMax)
}

// TimeOf returns the creation time encoded in id.
func TimeOf(id uint64) time.Time {
	ms := int64((id>>timeShift)&timeMask) + epoch
	return time.Unix(0, ms*int64(time.Millisecond)).UTC()
}

func now() uint64 { return uint64(time.Now().UnixNano() / 1e6) }
