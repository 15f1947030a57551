package protocol

import (
	stderrors "errors"
	"fmt"

	"github.com/bardlex/gocoal/pkg/errors"
)

// Code is a transaction abort code surfaced by the host ledger.
type Code uint32

// ProgramError is a named abort. Values are comparable so errors.Is matches
// a wrapped abort against the exported sentinels.
type ProgramError struct {
	Code Code
	Name string
	Type errors.ErrorType
}

func (e ProgramError) Error() string {
	return fmt.Sprintf("%s (0x%x)", e.Name, uint32(e.Code))
}

// ErrorType implements errors.Classified.
func (e ProgramError) ErrorType() errors.ErrorType { return e.Type }

// Program-specific aborts.
var (
	ErrNeedsReset      = ProgramError{0, "NeedsReset", errors.ErrorTypeTiming}
	ErrHashInvalid     = ProgramError{1, "HashInvalid", errors.ErrorTypeProofOfWork}
	ErrHashTooEasy     = ProgramError{2, "HashTooEasy", errors.ErrorTypeProofOfWork}
	ErrSpam            = ProgramError{3, "Spam", errors.ErrorTypeTiming}
	ErrMaxSupply       = ProgramError{4, "MaxSupply", errors.ErrorTypeEconomic}
	ErrAuthFailed      = ProgramError{5, "AuthFailed", errors.ErrorTypeIntegrity}
	ErrInvalidResource = ProgramError{6, "InvalidResource", errors.ErrorTypeIntegrity}
	ErrToolNotOwned    = ProgramError{7, "ToolNotOwned", errors.ErrorTypeIntegrity}
)

// Host ledger aborts raised while loading accounts and decoding data.
var (
	ErrNotEnoughAccountKeys     = ProgramError{0x1001, "NotEnoughAccountKeys", errors.ErrorTypeIntegrity}
	ErrMissingRequiredSignature = ProgramError{0x1002, "MissingRequiredSignature", errors.ErrorTypeIntegrity}
	ErrInvalidAccountOwner      = ProgramError{0x1003, "InvalidAccountOwner", errors.ErrorTypeIntegrity}
	ErrInvalidSeeds             = ProgramError{0x1004, "InvalidSeeds", errors.ErrorTypeIntegrity}
	ErrAccountNotWritable       = ProgramError{0x1005, "AccountNotWritable", errors.ErrorTypeIntegrity}
	ErrInvalidAccountData       = ProgramError{0x1006, "InvalidAccountData", errors.ErrorTypeAccountData}
	ErrInvalidInstructionData   = ProgramError{0x1007, "InvalidInstructionData", errors.ErrorTypeAccountData}
	ErrArithmeticOverflow       = ProgramError{0x1008, "ArithmeticOverflow", errors.ErrorTypeAccountData}
	ErrIncorrectProgramID       = ProgramError{0x1009, "IncorrectProgramId", errors.ErrorTypeIntegrity}
)

var byCode = map[Code]ProgramError{}

func init() {
	for _, e := range []ProgramError{
		ErrNeedsReset, ErrHashInvalid, ErrHashTooEasy, ErrSpam, ErrMaxSupply,
		ErrAuthFailed, ErrInvalidResource, ErrToolNotOwned,
		ErrNotEnoughAccountKeys, ErrMissingRequiredSignature, ErrInvalidAccountOwner,
		ErrInvalidSeeds, ErrAccountNotWritable, ErrInvalidAccountData,
		ErrInvalidInstructionData, ErrArithmeticOverflow, ErrIncorrectProgramID,
	} {
		byCode[e.Code] = e
	}
}

// LookupCode returns the abort registered under code.
func LookupCode(code Code) (ProgramError, bool) {
	e, ok := byCode[code]
	return e, ok
}

// AsProgramError extracts the abort from a possibly wrapped error.
func AsProgramError(err error) (ProgramError, bool) {
	var pe ProgramError
	if stderrors.As(err, &pe) {
		return pe, true
	}
	return ProgramError{}, false
}
