package configutil

import (
	"fmt"
	"reflect"
)

// newLike allocates a zero value of the type `ptr` points to.
func newLike(ptr any) (any, error) {
	v := reflect.ValueOf(ptr)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, fmt.Errorf("configutil: expected a non nil pointer, got %T", ptr)
	}
	return reflect.New(v.Elem().Type()).Interface(), nil
}
