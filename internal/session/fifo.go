package session

// 挂起配置按发送顺序排队：成功或失败响应取队首，发送失败撤回队尾

func popFront[T any](q []T) (T, []T, bool) {
	var zero T
	if len(q) == 0 {
		return zero, nil, false
	}
	head := q[0]
	if len(q) == 1 {
		return head, nil, true
	}
	return head, q[1:], true
}

func dropBack[T any](q []T) []T {
	if len(q) <= 1 {
		return nil
	}
	return q[:len(q)-1]
}
