// Package status реализует запись статуса задачи во внешний task record.
//
// Оркестратор видит задачу только через Reporter: UpdateStatus и
// UpdateTask. TaskReporter ограничивает прогресс диапазоном [0,100],
// отбрасывает пустой лог ошибок и никогда не возвращает ошибку записи:
// она логируется и учитывается в метрике mediaflow_status_report_failures_total.
package status
