// Package application contém os casos de uso do rate limit: o codec do
// CL.THROTTLE, o avaliador de decisões, o Service que percorre
// provider -> store -> avaliação, e o Layer que despacha o resultado para os
// hooks em qualquer pipeline (não só HTTP).
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Enforce(ctx, req) retorna um Outcome (admitted/throttled/unruled)
// ou um domain.Error.
package application
