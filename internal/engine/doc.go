// Package engine содержит чистую логику агрегации результатов flow.
//
// Включает:
//   - aggregate.go — слияние StepResult, построение TaskResult, лог ошибок, прогресс
//   - policy.go    — политики частичного успеха (AnySucceeded, AllSucceeded)
//   - validate.go  — валидация StepResult и списков шагов
//   - template.go  — рендеринг input шагов из шаблонов flow
//
// Функции пакета не имеют побочных эффектов: оркестратор читает
// кэш результатов из parent job и передаёт его сюда.
package engine
