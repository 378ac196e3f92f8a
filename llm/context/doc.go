// Copyright (c) ragcore Authors.
// Licensed under the MIT License.

/*
包 context 管理多轮对话的有界上下文。

# 核心类型

  - [Manager]：会话入口，提供 GetOrCreate / AppendTurn / GetContext / RememberTop
  - [SessionStore]：会话存储接口，内置 [MemorySessionStore] 与 [RedisSessionStore]
  - [Conversation]：会话快照，包含轮次、压缩标记、摘要与短期记忆

# 压缩

当轮数超过 max_turns 时，GetContext 只返回最近的 N 轮并置 compressed，
被丢弃的轮次以每轮不超过 100 字符的摘录写入 Summary。存储层可按
max_stored_turns 裁剪历史。

# 并发

同一会话的写操作通过按会话划分的互斥锁串行化，保证按提交顺序追加；
不同会话使用各自的锁，互不阻塞。Redis 存储的追加由 Lua 脚本原子完成。
*/
package context
