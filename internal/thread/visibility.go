package thread

import (
	"net/url"
	"sort"
	"strings"
)

// Visibility - состояние отображения одного сеанса просмотра.
// Expanded - раскрыт ли текст ("read more"), Open - показаны ли дочерние элементы
// (комментарии поста или ответы на комментарий). Нулевое значение: всё свёрнуто и скрыто.
// Состояние принадлежит вызывающему и не разделяется между сеансами.
type Visibility struct {
	Expanded map[string]bool
	Open     map[string]bool
}

// NewVisibility создаёт пустое состояние.
func NewVisibility() Visibility {
	return Visibility{Expanded: map[string]bool{}, Open: map[string]bool{}}
}

func (v Visibility) IsExpanded(id string) bool { return v.Expanded[id] }

func (v Visibility) IsOpen(id string) bool { return v.Open[id] }

// ToggleExpanded переключает "read more" для id.
func (v *Visibility) ToggleExpanded(id string) {
	if v.Expanded == nil {
		v.Expanded = map[string]bool{}
	}
	v.Expanded[id] = !v.Expanded[id]
}

// ToggleOpen переключает показ дочерних элементов для id.
func (v *Visibility) ToggleOpen(id string) {
	if v.Open == nil {
		v.Open = map[string]bool{}
	}
	v.Open[id] = !v.Open[id]
}

// ParseVisibility читает параметры запроса expanded=a,b и open=c,d.
func ParseVisibility(q url.Values) Visibility {
	v := NewVisibility()
	for _, id := range splitIDs(q["expanded"]) {
		v.Expanded[id] = true
	}
	for _, id := range splitIDs(q["open"]) {
		v.Open[id] = true
	}
	return v
}

// Encode - обратная операция к ParseVisibility, учитываются только включённые флаги.
func (v Visibility) Encode() url.Values {
	q := url.Values{}
	if ids := trueKeys(v.Expanded); len(ids) > 0 {
		q.Set("expanded", strings.Join(ids, ","))
	}
	if ids := trueKeys(v.Open); len(ids) > 0 {
		q.Set("open", strings.Join(ids, ","))
	}
	return q
}

func splitIDs(values []string) []string {
	var ids []string
	for _, raw := range values {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func trueKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k, on := range m {
		if on {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
