package envelope

import m "form-coach/internal/models"

// Ranges cover the whole range of motion of a repetition, so a standing
// start does not register as a deviation.

var lowerBody = []m.JointName{
	m.LeftHip, m.RightHip,
	m.LeftKnee, m.RightKnee,
	m.LeftAnkle, m.RightAnkle,
	m.LeftShoulder, m.RightShoulder,
}

var upperBody = []m.JointName{
	m.LeftShoulder, m.RightShoulder,
	m.LeftElbow, m.RightElbow,
	m.LeftWrist, m.RightWrist,
	m.LeftHip, m.RightHip,
}

func builtin() []*Envelope {
	return []*Envelope{
		squat(),
		pushUp(),
		lunge(),
		pullUp(),
		plank(),
		deadlift(),
	}
}

func squat() *Envelope {
	knee := AngleRange{MinIdeal: 70, MaxIdeal: 180, MinAcceptable: 50, MaxAcceptable: 180}
	hip := AngleRange{MinIdeal: 60, MaxIdeal: 180, MinAcceptable: 45, MaxAcceptable: 180}
	return &Envelope{
		Name:              "squat",
		Landmarks:         lowerBody,
		TracksRepetitions: true,
		Ranges: map[m.AngleKey]AngleRange{
			m.LeftKneeAngle:  knee,
			m.RightKneeAngle: knee,
			m.LeftHipAngle:   hip,
			m.RightHipAngle:  hip,
			m.TorsoLeanAngle: {MinIdeal: 0, MaxIdeal: 35, MinAcceptable: 0, MaxAcceptable: 50},
		},
		Rules: []FormRule{
			{
				Name:        "squat_knee_asymmetry",
				Description: "Knees are bending unevenly; spread your weight across both legs",
				Class:       ClassTechnique,
				When:        []Condition{Asymmetry(m.LeftKneeAngle, m.RightKneeAngle, 15)},
			},
			{
				Name:        "squat_forward_collapse",
				Description: "Chest is collapsing forward under load; keep your chest up and back neutral",
				Class:       ClassSafety,
				When: []Condition{
					Above(m.TorsoLeanAngle, 45),
					Below(m.LeftKneeAngle, 120),
				},
			},
			{
				Name:        "squat_hip_shift",
				Description: "Hips are shifting to one side",
				Class:       ClassWarning,
				When:        []Condition{Asymmetry(m.LeftHipAngle, m.RightHipAngle, 15)},
			},
			{
				Name:        "squat_too_deep",
				Description: "Depth is beyond a safe knee bend; stop just below parallel",
				Class:       ClassSafety,
				When: []Condition{
					Below(m.LeftKneeAngle, 45),
					Below(m.RightKneeAngle, 45),
				},
			},
		},
	}
}

func pushUp() *Envelope {
	elbow := AngleRange{MinIdeal: 70, MaxIdeal: 180, MinAcceptable: 60, MaxAcceptable: 180}
	line := AngleRange{MinIdeal: 165, MaxIdeal: 180, MinAcceptable: 150, MaxAcceptable: 180}
	return &Envelope{
		Name:      "push-up",
		Landmarks: upperBody,
		Ranges: map[m.AngleKey]AngleRange{
			m.LeftElbowAngle:  elbow,
			m.RightElbowAngle: elbow,
			m.LeftHipAngle:    line,
			m.RightHipAngle:   line,
		},
		Rules: []FormRule{
			{
				Name:        "pushup_body_line_break",
				Description: "Hips are breaking the plank line; brace your core and squeeze your glutes",
				Class:       ClassSafety,
				When: []Condition{
					Below(m.LeftHipAngle, 150),
					Below(m.RightHipAngle, 150),
				},
			},
			{
				Name:        "pushup_elbow_asymmetry",
				Description: "One arm is doing more of the work",
				Class:       ClassTechnique,
				When:        []Condition{Asymmetry(m.LeftElbowAngle, m.RightElbowAngle, 20)},
			},
			{
				Name:        "pushup_elbow_flare",
				Description: "Elbows are flaring out; tuck them to about 45 degrees",
				Class:       ClassWarning,
				When:        []Condition{Above(m.LeftShoulderAngle, 75)},
			},
		},
	}
}

func lunge() *Envelope {
	knee := AngleRange{MinIdeal: 80, MaxIdeal: 180, MinAcceptable: 60, MaxAcceptable: 180}
	return &Envelope{
		Name:              "lunge",
		Landmarks:         lowerBody,
		TracksRepetitions: true,
		Ranges: map[m.AngleKey]AngleRange{
			m.LeftKneeAngle:  knee,
			m.RightKneeAngle: knee,
			m.TorsoLeanAngle: {MinIdeal: 0, MaxIdeal: 20, MinAcceptable: 0, MaxAcceptable: 35},
		},
		Rules: []FormRule{
			{
				Name:        "lunge_torso_lean",
				Description: "Torso is tipping forward; stay tall through the lunge",
				Class:       ClassTechnique,
				When:        []Condition{Above(m.TorsoLeanAngle, 25)},
			},
			{
				Name:        "lunge_left_knee_overflexion",
				Description: "Left knee is folding past a safe angle",
				Class:       ClassSafety,
				When:        []Condition{Below(m.LeftKneeAngle, 60)},
			},
			{
				Name:        "lunge_right_knee_overflexion",
				Description: "Right knee is folding past a safe angle",
				Class:       ClassSafety,
				When:        []Condition{Below(m.RightKneeAngle, 60)},
			},
		},
	}
}

func pullUp() *Envelope {
	elbow := AngleRange{MinIdeal: 40, MaxIdeal: 180, MinAcceptable: 30, MaxAcceptable: 180}
	return &Envelope{
		Name:      "pull-up",
		Landmarks: upperBody,
		Ranges: map[m.AngleKey]AngleRange{
			m.LeftElbowAngle:  elbow,
			m.RightElbowAngle: elbow,
		},
		Rules: []FormRule{
			{
				Name:        "pullup_elbow_asymmetry",
				Description: "Pulling unevenly; drive both elbows down together",
				Class:       ClassTechnique,
				When:        []Condition{Asymmetry(m.LeftElbowAngle, m.RightElbowAngle, 20)},
			},
			{
				Name:        "pullup_kipping",
				Description: "Legs are swinging; keep the body still and pull with the back",
				Class:       ClassWarning,
				When:        []Condition{Below(m.LeftHipAngle, 150)},
			},
		},
	}
}

func plank() *Envelope {
	line := AngleRange{MinIdeal: 165, MaxIdeal: 180, MinAcceptable: 155, MaxAcceptable: 180}
	stack := AngleRange{MinIdeal: 80, MaxIdeal: 100, MinAcceptable: 70, MaxAcceptable: 110}
	return &Envelope{
		Name: "plank",
		Landmarks: []m.JointName{
			m.LeftShoulder, m.RightShoulder,
			m.LeftElbow, m.RightElbow,
			m.LeftHip, m.RightHip,
			m.LeftAnkle, m.RightAnkle,
		},
		Ranges: map[m.AngleKey]AngleRange{
			m.LeftHipAngle:       line,
			m.RightHipAngle:      line,
			m.LeftShoulderAngle:  stack,
			m.RightShoulderAngle: stack,
			m.LeftElbowAngle:     stack,
			m.RightElbowAngle:    stack,
		},
		Rules: []FormRule{
			{
				Name:        "plank_hips_dropping",
				Description: "Hips are sagging toward the floor; lift them in line with your shoulders",
				Class:       ClassSafety,
				When:        []Condition{Below(m.LeftHipAngle, 150)},
			},
			{
				Name:        "plank_shoulders_forward",
				Description: "Shoulders are drifting past the elbows",
				Class:       ClassWarning,
				When:        []Condition{Outside(m.LeftShoulderAngle, 70, 110)},
			},
		},
	}
}

func deadlift() *Envelope {
	knee := AngleRange{MinIdeal: 110, MaxIdeal: 180, MinAcceptable: 90, MaxAcceptable: 180}
	hip := AngleRange{MinIdeal: 45, MaxIdeal: 180, MinAcceptable: 30, MaxAcceptable: 180}
	return &Envelope{
		Name:      "deadlift",
		Landmarks: lowerBody,
		Ranges: map[m.AngleKey]AngleRange{
			m.LeftKneeAngle:  knee,
			m.RightKneeAngle: knee,
			m.LeftHipAngle:   hip,
			m.RightHipAngle:  hip,
			m.TorsoLeanAngle: {MinIdeal: 0, MaxIdeal: 60, MinAcceptable: 0, MaxAcceptable: 75},
		},
		Rules: []FormRule{
			{
				Name:        "deadlift_stiff_leg_fold",
				Description: "Folding at the hips with locked knees; soften the knees and hinge",
				Class:       ClassSafety,
				When: []Condition{
					Below(m.LeftHipAngle, 50),
					Above(m.LeftKneeAngle, 165),
				},
			},
			{
				Name:        "deadlift_knee_asymmetry",
				Description: "Knees are unevenly bent",
				Class:       ClassTechnique,
				When:        []Condition{Asymmetry(m.LeftKneeAngle, m.RightKneeAngle, 15)},
			},
		},
	}
}
