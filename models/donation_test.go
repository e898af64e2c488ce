package models

import (
	"reflect"
	"strings"
	"testing"
)

// The checkout request ID is the callback's lookup key; the schema has to
// reject a second row claiming the same one.
func TestCheckoutRequestIDSchemaIsUnique(t *testing.T) {
	field, ok := reflect.TypeOf(Donation{}).FieldByName("CheckoutRequestID")
	if !ok {
		t.Fatal("Donation has no CheckoutRequestID field")
	}
	if !strings.Contains(field.Tag.Get("gorm"), "uniqueIndex") {
		t.Errorf("CheckoutRequestID gorm tag %q lacks uniqueIndex", field.Tag.Get("gorm"))
	}
	if field.Type.Kind() != reflect.Ptr {
		t.Error("CheckoutRequestID must be nullable so rows awaiting a push response do not collide")
	}
}
