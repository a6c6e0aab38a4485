package listing

import (
	"testing"

	"github.com/rajivgeraev/flippy-market/internal/errs"
)

func TestDecodeFormPriceAndAttributes(t *testing.T) {
	l, err := DecodeForm(map[string]interface{}{
		"category":     "cars",
		"city":         " Lahore ",
		"title":        "Corolla 2015",
		"price":        "1500000",
		"contact_info": "+92 300 0000000",
		"images": []interface{}{
			map[string]interface{}{"url": "https://res.cloudinary.com/x/1.jpg", "public_id": "flippy/1"},
		},
		"mileage":   float64(120000),
		"gearbox":   "auto",
		"blank":     "  ",
		"nested":    map[string]interface{}{"a": 1},
		"automatic": true,
	})
	if err != nil {
		t.Fatalf("DecodeForm: %v", err)
	}
	if l.Price != 1500000 {
		t.Fatalf("Price = %v", l.Price)
	}
	if l.City != "Lahore" {
		t.Fatalf("City = %q", l.City)
	}
	if len(l.Images) != 1 || l.Images[0].PublicID != "flippy/1" {
		t.Fatalf("Images = %+v", l.Images)
	}
	want := map[string]string{"mileage": "120000", "gearbox": "auto", "automatic": "true"}
	if len(l.Attributes) != len(want) {
		t.Fatalf("Attributes = %v", l.Attributes)
	}
	for k, v := range want {
		if l.Attributes[k] != v {
			t.Fatalf("Attributes[%s] = %q, want %q", k, l.Attributes[k], v)
		}
	}
}

func TestDecodeFormValidation(t *testing.T) {
	cases := []struct {
		name  string
		raw   map[string]interface{}
		field string
	}{
		{"missing title", map[string]interface{}{"category": "cars", "city": "Lahore", "title": "   "}, "title"},
		{"missing category", map[string]interface{}{"city": "Lahore", "title": "Bike"}, "category"},
		{"negative price", map[string]interface{}{"category": "cars", "city": "Lahore", "title": "Bike", "price": -5}, "price"},
		{"bad image url", map[string]interface{}{
			"category": "cars", "city": "Lahore", "title": "Bike",
			"images": []interface{}{map[string]interface{}{"url": "not a url"}},
		}, "url"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := DecodeForm(c.raw)
			if !errs.Is(err, errs.KindValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
			var e *errs.Error
			if !asErr(err, &e) || e.Field != c.field {
				t.Fatalf("field = %+v, want %q", e, c.field)
			}
		})
	}
}

func TestDecodeFormBadPrice(t *testing.T) {
	_, err := DecodeForm(map[string]interface{}{
		"category": "cars", "city": "Lahore", "title": "Bike", "price": "dear",
	})
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}
