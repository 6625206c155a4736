// Package anonymity выводит стабильные псевдонимы авторов из их идентификаторов.
package anonymity

import (
	"strconv"
	"unicode/utf16"
)

// Slots - количество различных псевдонимов. Коллизии между пользователями допустимы.
const Slots = 10000

const prefix = "Anonymous "

// Hash считает 32-битный знаковый хеш в стиле Java (h = h*31 + c) по кодовым единицам UTF-16.
func Hash(userID string) int32 {
	var h int32
	for _, cu := range utf16.Encode([]rune(userID)) {
		h = h*31 + int32(cu)
	}
	return h
}

// Label возвращает псевдоним вида "Anonymous N", где N в [0, Slots).
// Функция тотальна: Label("") == "Anonymous 0".
func Label(userID string) string {
	// В 64 битах модуль math.MinInt32 определён корректно.
	n := int64(Hash(userID))
	if n < 0 {
		n = -n
	}
	return prefix + strconv.FormatInt(n%Slots, 10)
}
