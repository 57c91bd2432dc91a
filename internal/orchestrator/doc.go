// Package orchestrator управляет выполнением flow: parent job и его step jobs.
//
// Orchestrator отвечает за:
//   - Маршрутизацию job: parent, step или служебный маркер
//   - Выполнение шага с возвратом кэшированного completed результата
//   - Сбор результатов детей и сверку с историей очереди
//   - Применение политики частичного успеха и финальный отчёт
//   - Обработчики active/completed/failed, которые ведут кэш
//     stepResults в данных parent job и отчёт о прогрессе
//
// Все изменения stepResults проходят через updateParentData —
// цикл compare-and-swap по версии данных parent job.
//
// Producer создаёт flow для новой задачи: parent и по одному step job
// на каждый включённый шаг.
package orchestrator
