// Package race 實現打字競賽的即時協調引擎。
//
// 引擎負責：
//   - 配對：把想參加公開賽的玩家放進可加入的房間，沒有就開新房
//   - 房間生命週期：公開房、私人房、單人對戰機器人房的建立、加入、離開與回收
//   - 比賽狀態機：waiting → countdown → racing → closed
//   - 進度處理：每次按鍵回報的字元數、WPM、道具掉落、完賽與成績寫入
//   - 道具結算：使用道具後產生帶有結束時間的效果，廣播給所有玩家
//
// # 併發模型
//
// 所有房間與連線表只由一個 goroutine 持有（Engine.loop）。
// 每個操作（協定訊息、計時器、背景工作完成）都包成一個 closure 丟進同一個佇列，
// 依序執行到完成，不會有兩個操作交錯修改同一個房間，所以房間狀態不需要鎖。
//
// 計時器只記住房間 ID，觸發時重新從房間表查詢，房間已不存在就直接略過。
// 外部協作者（題目、比賽紀錄、成績、使用者查詢）在背景 goroutine 呼叫，
// 完成後再把「若房間仍存在就套用結果」的 closure 送回佇列。
//
// # 協作者
//
// 引擎只依賴四個窄介面：PassageProvider、RaceLedger、ResultLedger、UserLookup。
// 正式環境由 internal/store（PostgreSQL + Redis）與 internal/events（NATS）實作。
package race
