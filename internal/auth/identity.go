// Package auth описывает текущего пользователя сессии.
package auth

// Identity источник текущего пользователя.
// Пустой ID или ok == false означает, что пользователь не вошел.
type Identity interface {
	UserID() (string, bool)
}

// Static пользователь, известный на момент создания сессии
type Static string

// UserID реализует Identity
func (s Static) UserID() (string, bool) {
	return string(s), s != ""
}

// Anonymous сессия без пользователя
var Anonymous Identity = Static("")

// Func адаптер функции к Identity
type Func func() (string, bool)

// UserID реализует Identity
func (f Func) UserID() (string, bool) {
	return f()
}

// Require возвращает ID пользователя или false, если identity не задана
func Require(id Identity) (string, bool) {
	if id == nil {
		return "", false
	}
	userID, ok := id.UserID()
	return userID, ok && userID != ""
}
