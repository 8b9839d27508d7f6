package vm

import "sort"

// FunctionProfile is the instruction count charged to one function.
type FunctionProfile struct {
	Index        int
	Name         string
	File         string
	Instructions int32
}

// Profile returns the n functions with the highest instruction counts,
// busiest first. n <= 0 returns every function that ran.
//
// Counts are charged to the running function at each call and return, so
// a function is credited with its own statements, not its callees'.
func (vm *VM) Profile(n int) []FunctionProfile {
	if vm.img == nil {
		return nil
	}
	var out []FunctionProfile
	for i := range vm.img.Functions {
		f := &vm.img.Functions[i]
		if f.Profile == 0 {
			continue
		}
		out = append(out, FunctionProfile{
			Index:        i,
			Name:         vm.str(f.Name),
			File:         vm.str(f.File),
			Instructions: f.Profile,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Instructions > out[j].Instructions
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ResetProfile zeroes every function's counter.
func (vm *VM) ResetProfile() {
	if vm.img == nil {
		return
	}
	for i := range vm.img.Functions {
		vm.img.Functions[i].Profile = 0
	}
}
