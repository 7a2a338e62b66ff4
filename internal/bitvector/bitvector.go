// Package bitvector 提供任意宽度的位标志容器，位索引从 0 开始、最低位优先。
package bitvector

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrDivisionByZero 除数为 0
var ErrDivisionByZero = errors.New("bitvector: division by zero")

// MaxShift 移位位数上限
const MaxShift = 1 << 16

// ShiftRangeError 移位位数为负或超过 MaxShift
type ShiftRangeError struct {
	Count *big.Int
}

func (e *ShiftRangeError) Error() string {
	return fmt.Sprintf("bitvector: shift count %s out of range [0, %d]", e.Count, MaxShift)
}

// InvalidArgumentError 构造参数无法转换为整数
type InvalidArgumentError struct {
	Value any
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("bitvector: invalid argument %v (%T): not convertible to integer", e.Value, e.Value)
}

// BitVector 以 big.Int 为底层存储的位向量
type BitVector struct {
	v *big.Int
}

// New 从整数兼容值构造位向量。
// 支持所有内建整数类型、*big.Int、*BitVector，以及十进制或带 0x/0b/0o 前缀的字符串。
func New(value any) (*BitVector, error) {
	n := new(big.Int)
	switch x := value.(type) {
	case int:
		n.SetInt64(int64(x))
	case int8:
		n.SetInt64(int64(x))
	case int16:
		n.SetInt64(int64(x))
	case int32:
		n.SetInt64(int64(x))
	case int64:
		n.SetInt64(x)
	case uint:
		n.SetUint64(uint64(x))
	case uint8:
		n.SetUint64(uint64(x))
	case uint16:
		n.SetUint64(uint64(x))
	case uint32:
		n.SetUint64(uint64(x))
	case uint64:
		n.SetUint64(x)
	case *big.Int:
		if x == nil {
			return nil, &InvalidArgumentError{Value: value}
		}
		n.Set(x)
	case *BitVector:
		if x == nil {
			return nil, &InvalidArgumentError{Value: value}
		}
		n.Set(x.v)
	case string:
		if _, ok := n.SetString(strings.TrimSpace(x), 0); !ok {
			return nil, &InvalidArgumentError{Value: value}
		}
	default:
		return nil, &InvalidArgumentError{Value: value}
	}
	return &BitVector{v: n}, nil
}

// FromUint64 构造位向量（不会失败）
func FromUint64(x uint64) *BitVector {
	return &BitVector{v: new(big.Int).SetUint64(x)}
}

// FromByte 以单字节构造位向量
func FromByte(b byte) *BitVector {
	return FromUint64(uint64(b))
}

func wrap(n *big.Int) *BitVector { return &BitVector{v: n} }

// Int 返回底层整数的副本
func (b *BitVector) Int() *big.Int { return new(big.Int).Set(b.v) }

// Uint64 返回底层整数的低 64 位
func (b *BitVector) Uint64() uint64 { return b.v.Uint64() }

// 位序号为负时视为恒为 0 的位：写操作不改变值，读操作返回 0。

// On 置位并返回新值
func (b *BitVector) On(bit int) *big.Int {
	if bit >= 0 {
		b.v.SetBit(b.v, bit, 1)
	}
	return b.Int()
}

// Off 清位并返回新值
func (b *BitVector) Off(bit int) *big.Int {
	if bit >= 0 {
		b.v.SetBit(b.v, bit, 0)
	}
	return b.Int()
}

// Toggle 翻转指定位并返回新值
func (b *BitVector) Toggle(bit int) *big.Int {
	if bit >= 0 {
		b.v.SetBit(b.v, bit, b.v.Bit(bit)^1)
	}
	return b.Int()
}

// Set 按 on 置位或清位
func (b *BitVector) Set(bit int, on bool) *big.Int {
	if on {
		return b.On(bit)
	}
	return b.Off(bit)
}

// SetRange 对闭区间 [lo, hi] 内每一位执行相同操作，负序号部分忽略
func (b *BitVector) SetRange(lo, hi int, on bool) *big.Int {
	if lo > hi {
		lo, hi = hi, lo
	}
	lo = max(lo, 0)
	var bit uint
	if on {
		bit = 1
	}
	for i := lo; i <= hi; i++ {
		b.v.SetBit(b.v, i, bit)
	}
	return b.Int()
}

// IsOn 指定位是否为 1
func (b *BitVector) IsOn(bit int) bool { return b.bit(bit) == 1 }

// IsOff 指定位是否为 0
func (b *BitVector) IsOff(bit int) bool { return b.bit(bit) == 0 }

func (b *BitVector) bit(i int) uint {
	if i < 0 {
		return 0
	}
	return b.v.Bit(i)
}

// Bits 从最低位开始逐位返回 0/1
func (b *BitVector) Bits() []uint {
	n := b.Size()
	out := make([]uint, n)
	abs := new(big.Int).Abs(b.v)
	for i := 0; i < n; i++ {
		out[i] = abs.Bit(i)
	}
	return out
}

// Size 表示当前值所需的最少位数（0 也占 1 位，负数额外计符号位）
func (b *BitVector) Size() int {
	n := b.v.BitLen()
	if n == 0 {
		n = 1
	}
	if b.v.Sign() < 0 {
		n++
	}
	return n
}

func (b *BitVector) Add(o *BitVector) *BitVector { return wrap(new(big.Int).Add(b.v, o.v)) }
func (b *BitVector) Sub(o *BitVector) *BitVector { return wrap(new(big.Int).Sub(b.v, o.v)) }
func (b *BitVector) Mul(o *BitVector) *BitVector { return wrap(new(big.Int).Mul(b.v, o.v)) }
func (b *BitVector) And(o *BitVector) *BitVector { return wrap(new(big.Int).And(b.v, o.v)) }
func (b *BitVector) Or(o *BitVector) *BitVector  { return wrap(new(big.Int).Or(b.v, o.v)) }
func (b *BitVector) Xor(o *BitVector) *BitVector { return wrap(new(big.Int).Xor(b.v, o.v)) }

// Not 按位取反（与整数补码语义一致：^x == -x-1）
func (b *BitVector) Not() *BitVector { return wrap(new(big.Int).Not(b.v)) }

// Div 向下取整除法
func (b *BitVector) Div(o *BitVector) (*BitVector, error) {
	if o.v.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	q, m := new(big.Int).DivMod(b.v, o.v, new(big.Int))
	if m.Sign() != 0 && o.v.Sign() < 0 {
		q.Sub(q, big.NewInt(1))
	}
	return wrap(q), nil
}

// Mod 取模，结果符号与除数一致
func (b *BitVector) Mod(o *BitVector) (*BitVector, error) {
	if o.v.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	m := new(big.Int).Mod(b.v, o.v)
	if m.Sign() != 0 && o.v.Sign() < 0 {
		m.Add(m, o.v)
	}
	return wrap(m), nil
}

// Lsh 左移 o 位，o 须在 [0, MaxShift] 内
func (b *BitVector) Lsh(o *BitVector) (*BitVector, error) {
	n, err := shiftCount(o)
	if err != nil {
		return nil, err
	}
	return wrap(new(big.Int).Lsh(b.v, n)), nil
}

// Rsh 右移 o 位（算术右移），o 须在 [0, MaxShift] 内
func (b *BitVector) Rsh(o *BitVector) (*BitVector, error) {
	n, err := shiftCount(o)
	if err != nil {
		return nil, err
	}
	return wrap(new(big.Int).Rsh(b.v, n)), nil
}

func shiftCount(o *BitVector) (uint, error) {
	if o.v.Sign() < 0 || !o.v.IsUint64() || o.v.Uint64() > MaxShift {
		return 0, &ShiftRangeError{Count: o.Int()}
	}
	return uint(o.v.Uint64()), nil
}

// Cmp 按底层整数比较
func (b *BitVector) Cmp(o *BitVector) int { return b.v.Cmp(o.v) }

// Equal 值相等
func (b *BitVector) Equal(o *BitVector) bool { return o != nil && b.v.Cmp(o.v) == 0 }

// Hex 形如 0x00ff
func (b *BitVector) Hex() string { return fmt.Sprintf("0x%04x", b.v) }

// Bin 形如 0b101
func (b *BitVector) Bin() string { return "0b" + b.v.Text(2) }

func (b *BitVector) String() string { return b.v.String() }
