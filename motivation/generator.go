// Package motivation turns financial events into notification text.
//
// The contract is a pure function of (event, context). Templates is the
// built-in implementation; a smarter rule engine can replace it behind
// the Generator interface.
package motivation

import (
	"fmt"

	"github.com/warp/finance-engine/ledger"
)

// Context carries the facts a message may mention.
type Context struct {
	Amount     ledger.Money
	PersonName string
	Title      string
}

// Message is the display text of a notification.
type Message struct {
	Title string
	Body  string
}

type Generator interface {
	Generate(event ledger.Event, c Context) Message
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(event ledger.Event, c Context) Message

func (f GeneratorFunc) Generate(event ledger.Event, c Context) Message { return f(event, c) }

// Templates renders fixed Russian-language templates.
type Templates struct{}

var _ Generator = Templates{}

func (Templates) Generate(event ledger.Event, c Context) Message {
	switch event {
	case ledger.EventSalaryReceived:
		return Message{
			Title: "Зарплата получена",
			Body:  fmt.Sprintf("Поступило %s. Отложите часть на цели, пока деньги не разошлись.", c.Amount),
		}
	case ledger.EventBigExpense:
		return Message{
			Title: "Крупный расход",
			Body:  fmt.Sprintf("Вы потратили %s. Проверьте, укладываетесь ли вы в бюджет.", c.Amount),
		}
	case ledger.EventDebtCreated:
		return Message{
			Title: "Новый долг",
			Body:  fmt.Sprintf("Долг на %s (%s) записан. Мы напомним о нём.", c.Amount, c.PersonName),
		}
	case ledger.EventDebtClosed:
		return Message{
			Title: "Долг закрыт",
			Body:  fmt.Sprintf("Долг %s на %s закрыт. Отличная работа!", c.PersonName, c.Amount),
		}
	case ledger.EventCalendarCreated:
		return Message{
			Title: "Создано событие",
			Body:  c.Title,
		}
	}
	return Message{Title: "Уведомление", Body: c.Title}
}
