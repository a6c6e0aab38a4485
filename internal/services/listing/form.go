package listing

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/models"
)

var validate = validator.New()

// formImage изображение в форме публикации
type formImage struct {
	URL      string `mapstructure:"url" validate:"required,url"`
	PublicID string `mapstructure:"public_id"`
}

// ListingForm форма публикации объявления.
// Поля, которых нет в форме, попадают в Extra и сохраняются как атрибуты категории.
type ListingForm struct {
	Category    string      `mapstructure:"category" validate:"required"`
	City        string      `mapstructure:"city" validate:"required"`
	Title       string      `mapstructure:"title" validate:"required,max=120"`
	Description string      `mapstructure:"description" validate:"max=5000"`
	Price       float64     `mapstructure:"price" validate:"gte=0"`
	ContactInfo string      `mapstructure:"contact_info"`
	Images      []formImage `mapstructure:"images" validate:"max=10,dive"`

	Extra map[string]interface{} `mapstructure:",remain"`
}

// fieldMessages сообщения об ошибках по полям формы
var fieldMessages = map[string]string{
	"Category":    "Выберите категорию",
	"City":        "Укажите город",
	"Title":       "Название обязательно",
	"Description": "Описание слишком длинное",
	"Price":       "Цена не может быть отрицательной",
	"Images":      "Некорректные изображения",
	"URL":         "Некорректная ссылка на изображение",
}

// DecodeForm разбирает произвольную форму в объявление.
// Цена принимается и строкой, и числом.
func DecodeForm(raw map[string]interface{}) (models.Listing, error) {
	var form ListingForm
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &form,
	})
	if err != nil {
		return models.Listing{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return models.Listing{}, errs.Validation("listing.form", "", "Неверный формат данных")
	}

	form.Category = strings.TrimSpace(form.Category)
	form.City = strings.TrimSpace(form.City)
	form.Title = strings.TrimSpace(form.Title)

	if err := validate.Struct(form); err != nil {
		return models.Listing{}, validationError("listing.form", err)
	}

	listing := models.Listing{
		Category:    form.Category,
		City:        form.City,
		Title:       form.Title,
		Description: form.Description,
		Price:       form.Price,
		ContactInfo: form.ContactInfo,
		Attributes:  attributes(form.Extra),
	}
	for _, img := range form.Images {
		listing.Images = append(listing.Images, models.ListingImage{URL: img.URL, PublicID: img.PublicID})
	}
	return listing, nil
}

// attributes приводит динамические поля категории к строкам
func attributes(extra map[string]interface{}) map[string]string {
	attrs := make(map[string]string, len(extra))
	for k, v := range extra {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val = strings.TrimSpace(val); val != "" {
				attrs[k] = val
			}
		case map[string]interface{}, []interface{}:
			// Вложенные структуры в атрибутах не поддерживаются
			continue
		default:
			attrs[k] = fmt.Sprint(val)
		}
	}
	return attrs
}

// validationError переводит первую ошибку валидатора в ошибку с полем
func validationError(op string, err error) error {
	var verrs validator.ValidationErrors
	if ok := asValidationErrors(err, &verrs); !ok || len(verrs) == 0 {
		return errs.Validation(op, "", "Неверный формат данных")
	}
	fe := verrs[0]
	msg, ok := fieldMessages[fe.Field()]
	if !ok {
		msg = "Некорректное значение поля " + fe.Field()
	}
	return errs.Validation(op, strings.ToLower(fe.Field()), msg)
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
