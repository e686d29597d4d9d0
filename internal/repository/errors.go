package repository

import "github.com/Dhoini/numgate/internal/domain"

var (
	// ErrNotFound запись не найдена
	ErrNotFound = domain.ErrNotFound

	// ErrAlreadyDecided заявка уже вышла из ожидания
	ErrAlreadyDecided = domain.ErrAlreadyDecided

	// ErrAlreadyTaken номер уже зарезервирован или принадлежит другому
	ErrAlreadyTaken = domain.ErrAlreadyTaken
)
