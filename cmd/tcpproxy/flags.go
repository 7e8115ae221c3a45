package main

import (
	"fmt"
	"strconv"
)

// repeatedInt is a pflag.Value that appends each occurrence of a flag to a
// slice, rather than overwriting a single value — the getopt-loop behavior
// original_source/src/main.c gets for free from calling filter_chain_add_*
// once per parsed -d/-r/-b occurrence.
type repeatedInt struct {
	values *[]int
	min    int
	max    int
	name   string
}

func (r *repeatedInt) String() string { return "" }

func (r *repeatedInt) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not an integer", r.name, s)
	}
	if v < r.min || v > r.max {
		return fmt.Errorf("invalid %s: %d (must be %d-%d)", r.name, v, r.min, r.max)
	}
	*r.values = append(*r.values, v)
	return nil
}

func (r *repeatedInt) Type() string { return "int" }

type repeatedInt64 struct {
	values *[]int64
	min    int64
	name   string
}

func (r *repeatedInt64) String() string { return "" }

func (r *repeatedInt64) Set(s string) error {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not an integer", r.name, s)
	}
	if v < r.min {
		return fmt.Errorf("invalid %s: %d (must be > %d)", r.name, v, r.min-1)
	}
	*r.values = append(*r.values, v)
	return nil
}

func (r *repeatedInt64) Type() string { return "int" }

type repeatedFloat struct {
	values *[]float64
	min    float64
	max    float64
	name   string
}

func (r *repeatedFloat) String() string { return "" }

func (r *repeatedFloat) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not a number", r.name, s)
	}
	if v < r.min || v > r.max {
		return fmt.Errorf("invalid %s: %v (must be %v-%v)", r.name, v, r.min, r.max)
	}
	*r.values = append(*r.values, v)
	return nil
}

func (r *repeatedFloat) Type() string { return "float" }
