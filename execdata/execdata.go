// Package execdata converts between the smart margin account's batched
// execute payload (parallel command codes and ABI blobs) and typed operations.
package execdata

import (
	"errors"
	"fmt"

	"margin-repeater/commands"
	"margin-repeater/contracts"
)

// ErrNotExecute is returned by UnpackExecute for calldata of any other method.
var ErrNotExecute = errors.New("calldata is not an execute call")

// Operation is one decoded command of a batch.
type Operation struct {
	Command commands.Name
	Args    commands.Args
}

// NewOperation builds an operation, deriving the command name from the argument variant.
func NewOperation(args commands.Args) Operation {
	cmd, _ := commands.ByCode(args.Code())
	return Operation{Command: cmd.Name, Args: args}
}

func (o Operation) String() string {
	return fmt.Sprintf("%s%+v", o.Command, o.Args)
}

// DecodeError reports a malformed or unknown command inside a batch.
type DecodeError struct {
	Index int
	Code  uint8
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode command %d at index %d: %v", e.Code, e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode turns parallel code/blob arrays into operations, preserving order.
func Decode(codes []uint8, blobs [][]byte) ([]Operation, error) {
	if len(codes) != len(blobs) {
		return nil, &DecodeError{
			Index: min(len(codes), len(blobs)),
			Err:   fmt.Errorf("%d codes but %d inputs", len(codes), len(blobs)),
		}
	}

	ops := make([]Operation, 0, len(codes))
	for i, code := range codes {
		cmd, ok := commands.ByCode(commands.Code(code))
		if !ok {
			return nil, &DecodeError{Index: i, Code: code, Err: errors.New("unknown command")}
		}
		args, err := cmd.Unpack(blobs[i])
		if err != nil {
			return nil, &DecodeError{Index: i, Code: code, Err: err}
		}
		ops = append(ops, Operation{Command: cmd.Name, Args: args})
	}
	return ops, nil
}

// Encode turns operations back into parallel code/blob arrays. Owner-only
// commands are dropped so a delegate never replays privileged actions.
func Encode(ops []Operation) ([]uint8, [][]byte, error) {
	codes := make([]uint8, 0, len(ops))
	blobs := make([][]byte, 0, len(ops))
	for i, op := range ops {
		cmd, ok := commands.ByName(op.Command)
		if !ok {
			return nil, nil, fmt.Errorf("operation %d: unknown command %q", i, op.Command)
		}
		if cmd.OwnerOnly() {
			continue
		}
		blob, err := cmd.Pack(op.Args)
		if err != nil {
			return nil, nil, fmt.Errorf("operation %d: %w", i, err)
		}
		codes = append(codes, uint8(cmd.Code))
		blobs = append(blobs, blob)
	}
	return codes, blobs, nil
}

// UnpackExecute extracts the code/blob arrays from execute(uint8[],bytes[]) calldata.
func UnpackExecute(calldata []byte) ([]uint8, [][]byte, error) {
	if len(calldata) < 4 {
		return nil, nil, ErrNotExecute
	}
	method, err := contracts.SmartMarginAccount.MethodById(calldata[:4])
	if err != nil || method.Name != "execute" {
		return nil, nil, ErrNotExecute
	}
	values, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("unpack execute: %w", err)
	}
	codes, ok := values[0].([]uint8)
	if !ok {
		return nil, nil, fmt.Errorf("unpack execute: unexpected commands type %T", values[0])
	}
	blobs, ok := values[1].([][]byte)
	if !ok {
		return nil, nil, fmt.Errorf("unpack execute: unexpected inputs type %T", values[1])
	}
	return codes, blobs, nil
}

// PackExecute builds execute(uint8[],bytes[]) calldata.
func PackExecute(codes []uint8, blobs [][]byte) ([]byte, error) {
	return contracts.SmartMarginAccount.Pack("execute", codes, blobs)
}
