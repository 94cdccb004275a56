package osp

import (
	"fmt"
	"maps"
	"math"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// assignAttributes decodes attrs onto a copy of arch, validates the copy
// against its `validate` tags and only then stores it back into arch.
func assignAttributes(arch Archetype, attrs map[string]any) error {
	if len(attrs) == 0 {
		return nil
	}
	if o, ok := arch.(Opaque); ok {
		fields := maps.Clone(o.RawFields())
		if fields == nil {
			fields = make(map[string]any, len(attrs))
		}
		maps.Copy(fields, attrs)
		o.SetRawFields(fields)
		return nil
	}

	v := reflect.ValueOf(arch)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: %T is not a struct pointer", ErrInvalidAttributeAssignment, arch)
	}
	clone := reflect.New(v.Elem().Type())
	clone.Elem().Set(v.Elem())

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		TagName:     "osp",
		DecodeHook:  exactNumbers,
		Result:      clone.Interface(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAttributeAssignment, err)
	}
	if err := dec.Decode(attrs); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAttributeAssignment, typeLabel(v.Type()), err)
	}
	if err := validate.Struct(clone.Interface()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAttributeAssignment, typeLabel(v.Type()), err)
	}
	v.Elem().Set(clone.Elem())
	return nil
}

// exactNumbers rejects numeric values that would lose their value when
// stored in the target field: fractions going into integers, negatives into
// unsigned integers and anything out of the field's range.
func exactNumbers(from, to reflect.Value) (any, error) {
	if !from.IsValid() {
		return nil, nil
	}
	src := reflect.Indirect(from)
	if !src.IsValid() {
		return from.Interface(), nil
	}
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch {
		case src.CanInt():
			if to.OverflowInt(src.Int()) {
				return nil, fmt.Errorf("%d overflows %s", src.Int(), to.Type())
			}
		case src.CanUint():
			if src.Uint() > math.MaxInt64 || to.OverflowInt(int64(src.Uint())) {
				return nil, fmt.Errorf("%d overflows %s", src.Uint(), to.Type())
			}
		case src.CanFloat():
			f := src.Float()
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("%v is not an integer", f)
			}
			if f < math.MinInt64 || f >= math.MaxInt64 || to.OverflowInt(int64(f)) {
				return nil, fmt.Errorf("%v overflows %s", f, to.Type())
			}
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		switch {
		case src.CanInt():
			if src.Int() < 0 || to.OverflowUint(uint64(src.Int())) {
				return nil, fmt.Errorf("%d overflows %s", src.Int(), to.Type())
			}
		case src.CanUint():
			if to.OverflowUint(src.Uint()) {
				return nil, fmt.Errorf("%d overflows %s", src.Uint(), to.Type())
			}
		case src.CanFloat():
			f := src.Float()
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("%v is not an integer", f)
			}
			if f < 0 || f >= math.MaxUint64 || to.OverflowUint(uint64(f)) {
				return nil, fmt.Errorf("%v overflows %s", f, to.Type())
			}
		}
	case reflect.Float32, reflect.Float64:
		if src.CanFloat() && to.OverflowFloat(src.Float()) {
			return nil, fmt.Errorf("%v overflows %s", src.Float(), to.Type())
		}
	}
	return from.Interface(), nil
}
