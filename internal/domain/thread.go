package domain

import "sort"

// Thread 表示按访客邮箱聚合出的一个会话视图。
//
// 纯派生数据，从不落库：每次读取时由 BuildThreads 从消息全量重算。
type Thread struct {
	SenderEmail   string        `json:"senderEmail"`
	SenderName    string        `json:"senderName"`
	Messages      []ChatMessage `json:"messages"`
	LatestMessage *ChatMessage  `json:"latestMessage"`
	UnreadCount   int           `json:"unreadCount"`
}

// BuildThreads 将消息全量聚合为会话列表。
//
// 规则：
//   - 按 SenderEmail 分组，组内保持输入顺序（调用方保证按 CreatedAt 升序、
//     同时刻按写入顺序排列）
//   - SenderName 取该会话最近一条访客行的名字
//   - UnreadCount 统计未被回复的访客行：既没有 AdminReply（旧编码），
//     其后也没有客服行（追加编码）
//   - 结果按 LatestMessage.CreatedAt 降序排列
//
// 幂等：对同一输入重复调用得到相同结果。
func BuildThreads(messages []ChatMessage) []Thread {
	byEmail := make(map[string]*Thread)
	order := make([]string, 0)

	for i := range messages {
		msg := messages[i]
		th, ok := byEmail[msg.SenderEmail]
		if !ok {
			th = &Thread{SenderEmail: msg.SenderEmail}
			byEmail[msg.SenderEmail] = th
			order = append(order, msg.SenderEmail)
		}
		th.Messages = append(th.Messages, msg)
		if !msg.FromOperator() {
			th.SenderName = msg.SenderName
		}
	}

	threads := make([]Thread, 0, len(order))
	for _, email := range order {
		th := byEmail[email]
		last := len(th.Messages) - 1
		th.LatestMessage = &th.Messages[last]
		if th.SenderName == "" {
			th.SenderName = th.Messages[last].SenderName
		}
		th.UnreadCount = countUnread(th.Messages)
		threads = append(threads, *th)
	}

	// 最近活跃的会话排在前面；时间相同时保持分组出现顺序
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LatestMessage.CreatedAt.After(threads[j].LatestMessage.CreatedAt)
	})

	return threads
}

// countUnread 统计会话内未被回复的访客消息数。
//
// 一条访客行被视为已回复，当它自带 AdminReply，或其后（含同会话更晚的行）
// 存在任意一条客服行。
func countUnread(messages []ChatMessage) int {
	count := 0
	for i := range messages {
		msg := &messages[i]
		if msg.FromOperator() || msg.Answered() {
			continue
		}
		replied := false
		for j := i + 1; j < len(messages); j++ {
			if messages[j].FromOperator() {
				replied = true
				break
			}
		}
		if !replied {
			count++
		}
	}
	return count
}
