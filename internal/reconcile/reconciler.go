package reconcile

import "github.com/xela07ax/repbot/internal/domain"

// Decide сравнивает вывод классификатора с текущим членством в роли
// и возвращает не более одного корректирующего действия.
//
//	marker | role | action
//	  yes  |  no  | Grant
//	  no   |  yes | Revoke
//	  *    |  *   | NoOp
func Decide(hasMarker, hasRole bool) domain.Action {
	switch {
	case hasMarker && !hasRole:
		return domain.ActionGrant
	case !hasMarker && hasRole:
		return domain.ActionRevoke
	default:
		return domain.ActionNoOp
	}
}
