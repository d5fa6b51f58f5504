package keypager

import "fmt"

// Operator defines a comparison operator for filtering by column.
// Used in pagination filtering conditions.
type Operator string

const (
	OperatorGT Operator = ">"
	OperatorLT Operator = "<"

	// operatorEq is the equality operator. It is private because we use it
	// ONLY while building filtering conditions.
	operatorEq Operator = "="
)

func (o Operator) Valid() bool {
	return o == OperatorLT || o == OperatorGT
}

func (o Operator) ForOrdering() Direction {
	switch o {
	case OperatorGT:
		return DirectionASC
	case OperatorLT:
		return DirectionDESC
	default:
		panic(fmt.Errorf("cannot map operator '%s' to ordering", o))
	}
}

// Flip returns the mirrored operator. Flipping every operator of a cursor
// turns a "rows after this position" predicate into "rows before it".
func (o Operator) Flip() Operator {
	switch o {
	case OperatorGT:
		return OperatorLT
	case OperatorLT:
		return OperatorGT
	default:
		panic(fmt.Errorf("cannot flip operator '%s'", o))
	}
}
