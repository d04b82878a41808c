package store

import "time"

// OpKind names one queued command.
type OpKind uint8

const (
	OpGet OpKind = iota + 1
	OpSet
	OpIncr
	OpSAdd
	OpSMembers
	OpSUnion
	OpDel
)

func (k OpKind) String() string {
	switch k {
	case OpGet:
		return "GET"
	case OpSet:
		return "SET"
	case OpIncr:
		return "INCR"
	case OpSAdd:
		return "SADD"
	case OpSMembers:
		return "SMEMBERS"
	case OpSUnion:
		return "SUNION"
	case OpDel:
		return "DEL"
	default:
		return "UNKNOWN"
	}
}

// Result holds the reply of one queued command. It is only meaningful after
// the batch was executed (and, for RunOptimistic, committed).
type Result struct {
	Bytes   []byte   // GET
	Found   bool     // GET
	Int     int64    // INCR, DEL
	Strings []string // SMEMBERS, SUNION
}

// Op is a queued command. Adapters read the fields and fill Result.
type Op struct {
	Kind    OpKind
	Key     string        // GET, SET, INCR, SADD, SMEMBERS
	Keys    []string      // SUNION, DEL
	Members []string      // SADD
	Value   []byte        // SET
	TTL     time.Duration // SET; <= 0 means no expiry

	res Result
}

// Result returns the reply slot of the op.
func (o *Op) Result() *Result { return &o.res }

// Batch is an ordered list of commands executed as one MULTI/EXEC block.
// It is not safe for concurrent use.
type Batch struct {
	ops []*Op
}

func NewBatch() *Batch { return &Batch{} }

func (b *Batch) add(op *Op) *Result {
	b.ops = append(b.ops, op)
	return &op.res
}

func (b *Batch) Get(key string) *Result { return b.add(&Op{Kind: OpGet, Key: key}) }

func (b *Batch) Set(key string, value []byte, ttl time.Duration) *Result {
	return b.add(&Op{Kind: OpSet, Key: key, Value: value, TTL: ttl})
}

func (b *Batch) Incr(key string) *Result { return b.add(&Op{Kind: OpIncr, Key: key}) }

func (b *Batch) SAdd(key string, members ...string) *Result {
	return b.add(&Op{Kind: OpSAdd, Key: key, Members: members})
}

func (b *Batch) SMembers(key string) *Result { return b.add(&Op{Kind: OpSMembers, Key: key}) }

func (b *Batch) SUnion(keys ...string) *Result { return b.add(&Op{Kind: OpSUnion, Keys: keys}) }

func (b *Batch) Del(keys ...string) *Result { return b.add(&Op{Kind: OpDel, Keys: keys}) }

// Ops returns the queued ops in order.
func (b *Batch) Ops() []*Op { return b.ops }

// Len reports the number of queued ops.
func (b *Batch) Len() int { return len(b.ops) }

// Reset clears the replies so the same batch can be executed again.
func (b *Batch) Reset() {
	for _, op := range b.ops {
		op.res = Result{}
	}
}
