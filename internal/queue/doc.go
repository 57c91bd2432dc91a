// Package queue описывает очередь jobs, на которой построен оркестратор.
//
// Store хранит parent и step jobs и отвечает за зависимость parent от
// детей: parent становится waiting только после того, как каждый
// ребёнок достиг completed или failed. Notifier будит worker'ов.
//
// События active/completed/failed доставляются обработчикам из таблицы
// map[Event]EventHandler, которую worker получает от оркестратора.
//
// MemoryStore — реализация Store в памяти для тестов и локального запуска.
package queue
