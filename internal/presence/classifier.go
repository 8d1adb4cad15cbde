package presence

import "strings"

// DefaultMarker — тег, который участник добавляет в свой кастомный статус.
const DefaultMarker = "/clp"

// Classifier решает, присутствует ли маркер в статусах участника.
// Чистая функция: никакого состояния кроме самого маркера.
type Classifier struct {
	marker string
}

func NewClassifier(marker string) Classifier {
	if marker == "" {
		marker = DefaultMarker
	}
	return Classifier{marker: strings.ToLower(marker)}
}

func (c Classifier) Marker() string { return c.marker }

// HasMarker возвращает true, если хотя бы одна строка (без учета регистра) содержит маркер.
// Пустой список — false.
func (c Classifier) HasMarker(descriptions []string) bool {
	return HasMarker(c.marker, descriptions)
}

// HasMarker — то же без Classifier. Пустой маркер ничего не находит.
func HasMarker(marker string, descriptions []string) bool {
	needle := strings.ToLower(strings.TrimSpace(marker))
	if needle == "" {
		return false
	}
	for _, d := range descriptions {
		if d == "" {
			continue
		}
		if strings.Contains(strings.ToLower(d), needle) {
			return true
		}
	}
	return false
}
