// Code generated by "stringer -type=Severity"; DO NOT EDIT.

package apollo

import "strconv"

func _() {
	// An "invalid array index" compiler error signifies that the constant values have changed.
	// Re-run the stringer command to generate them again.
	var x [1]struct{}
	_ = x[Unknown-0]
	_ = x[None-1]
	_ = x[Low-2]
	_ = x[Moderate-3]
	_ = x[Important-4]
	_ = x[Critical-5]
}

const _Severity_name = "UnknownNoneLowModerateImportantCritical"

var _Severity_index = [...]uint8{0, 7, 11, 14, 22, 31, 39}

func (i Severity) String() string {
	if i >= Severity(len(_Severity_index)-1) {
		return "Severity(" + strconv.FormatInt(int64(i), 10) + ")"
	}
	return _Severity_name[_Severity_index[i]:_Severity_index[i+1]]
}
