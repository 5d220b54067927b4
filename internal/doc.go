// Package internal 提供多房間即時牌桌的伺服器端引擎。
//
// 玩家透過 WebSocket 加入同一張虛擬牌桌，拖曳從洗好的牌堆中抽出的卡牌；
// 把牌拉離中心夠遠後放開，牌面才會翻開，並輪到下一位玩家。
//
// # 房間生命週期
//
//   - 第一個加入不存在代碼的玩家建立房間
//   - 斷線的玩家保留位置 10 秒（寬限期），期間以相同名稱重連不影響輪次
//   - 房間清空後保留 10 分鐘，期間有人加入就取消刪除
//
// # 調度模型
//
// 所有狀態只在 Dispatcher 的單一 goroutine 內變更：
//
//	readPump ─┐
//	readPump ─┼─> Dispatcher.inbox ─> Manager ─> Room ─> table.Table
//	timers  ──┘                          │
//	                                     └─> Broadcaster (WebSocketHub)
//
// 計時器到期時只送出 ExpirePlayer / ExpireRoom 指令，不直接修改狀態，
// 因此取消與到期之間不存在競態。
//
// # 通訊協定
//
// 客戶端送 {"type": ..., "data": ...}：join、rename、move-card、release-card。
// 伺服器推 {"event": ..., "data": ...}：registered、full-table、card-delta、
// reorder、reveal、players、room-error。
//
// 使用範例
//
//	hub := internal.NewWebSocketHub(cfg.WebSocket, logger)
//	dispatcher := internal.NewDispatcher(cfg.Game, hub, logger)
//	hub.Bind(dispatcher)
//	go dispatcher.Run(ctx)
//
//	handler := internal.NewHandler(dispatcher, hub, logger)
//	http.ListenAndServe(":8080", handler.Routes())
//
// 卡牌幾何、疊放與翻牌規則在 table 子套件。
package internal
