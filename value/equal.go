package value

import "reflect"

func reflectDeepEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
